package queue

import (
	"regexp"
	"strings"
	"sync"

	"autoforwardx/internal/models"
)

// Drop reasons reported by Transform.
const (
	DropBlockedText  = "blocked_text"
	DropMissingText  = "required_text_missing"
	DropBlockedImage = "blocked_image"
	DropEmpty        = "empty_message"
)

// Result is the outcome of running a message through a pair's pipeline.
type Result struct {
	Payload models.Payload
	Dropped bool
	Reason  string
}

var (
	// Telegram @usernames, Discord user/role mentions and broadcast mentions.
	mentionPattern = regexp.MustCompile(`<@[!&]?\d+>|@(?:everyone|here)\b|@[A-Za-z][A-Za-z0-9_]{3,31}\b`)
	spacePattern   = regexp.MustCompile(`[ \t]{2,}`)

	patternCache sync.Map
)

// Transform applies pair's filters and rewrites to msg. It is pure: the same
// pair and message always give the same result.
func Transform(pair models.ForwardingPair, msg models.InboundMessage) Result {
	if reason, drop := filter(pair.Filters, msg); drop {
		return Result{Dropped: true, Reason: reason}
	}

	text := msg.Text
	text = applyReplacements(text, pair.Filters.Replacements)
	if pair.Mode.StripMentions {
		text = stripMentions(text)
	}
	text = applyEdits(text, pair.Edit)

	blank := strings.TrimSpace(text) == ""
	if blank && !msg.HasMedia && !msg.HasImage && len(msg.Attachments) == 0 {
		return Result{Dropped: true, Reason: DropEmpty}
	}

	payload := buildPayload(pair, msg, text)
	// A native forward carries whatever the source holds. A copy needs text
	// or media it can upload; an attribution line alone is not a message.
	if !payload.Forward && blank && len(payload.Attachments) == 0 {
		return Result{Dropped: true, Reason: DropEmpty}
	}
	return Result{Payload: payload}
}

func filter(filters models.FilterConfig, msg models.InboundMessage) (string, bool) {
	lower := strings.ToLower(msg.Text)
	for _, blocked := range filters.BlockedText {
		if strings.Contains(lower, strings.ToLower(blocked)) {
			return DropBlockedText, true
		}
	}
	if len(filters.RequiredText) > 0 {
		found := false
		for _, keyword := range filters.RequiredText {
			if strings.Contains(lower, strings.ToLower(keyword)) {
				found = true
				break
			}
		}
		if !found {
			return DropMissingText, true
		}
	}
	if filters.BlockImages && msg.HasImage {
		return DropBlockedImage, true
	}
	return "", false
}

func applyReplacements(text string, rules []models.ReplaceRule) string {
	for _, rule := range rules {
		if rule.Search == "" {
			continue
		}
		if !rule.Regex {
			text = strings.ReplaceAll(text, rule.Search, rule.Replace)
			continue
		}
		re, err := compilePattern(rule.Search)
		if err != nil {
			continue
		}
		text = re.ReplaceAllString(text, rule.Replace)
	}
	return text
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, re)
	return re, nil
}

func stripMentions(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		stripped := mentionPattern.ReplaceAllString(line, "")
		if stripped == line {
			continue
		}
		lines[i] = strings.TrimSpace(spacePattern.ReplaceAllString(stripped, " "))
	}
	return strings.Join(lines, "\n")
}

// applyEdits drops the first and last lines when asked, then wraps the text
// in the custom header and footer. A single-line message keeps its only line.
func applyEdits(text string, edit models.EditConfig) string {
	if edit.RemoveHeader {
		if i := strings.Index(text, "\n"); i >= 0 {
			text = text[i+1:]
		}
	}
	if edit.RemoveFooter {
		if i := strings.LastIndex(text, "\n"); i >= 0 {
			text = text[:i]
		}
	}
	if edit.Header != "" {
		text = edit.Header + "\n" + text
	}
	if edit.Footer != "" {
		text = text + "\n" + edit.Footer
	}
	return text
}

// buildPayload picks between a native forward, an attributed copy and a
// freshly authored message.
func buildPayload(pair models.ForwardingPair, msg models.InboundMessage, text string) models.Payload {
	payload := models.Payload{
		SourceChatID:    msg.ChatID,
		SourceMessageID: msg.MessageID,
		Text:            text,
		Silent:          pair.Mode.SilentMode,
		HasMedia:        msg.HasMedia || msg.HasImage,
	}
	if len(msg.Attachments) > 0 {
		payload.Attachments = append([]models.Attachment(nil), msg.Attachments...)
	}
	if pair.Mode.CopyMode {
		return payload
	}

	// A native forward carries the original content, so it is only usable
	// when nothing was rewritten.
	if pair.Shape() == models.ShapeSamePlatform && text == msg.Text {
		payload.Forward = true
		return payload
	}
	payload.Attribution = attribution(msg)
	return payload
}

func attribution(msg models.InboundMessage) string {
	origin := msg.ChatTitle
	if origin == "" {
		origin = msg.ChatID
	}
	line := "Forwarded from " + origin
	if msg.Author != "" {
		line += " (" + msg.Author + ")"
	}
	return line
}
