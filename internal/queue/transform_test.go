package queue

import (
	"testing"

	"autoforwardx/internal/models"

	"github.com/stretchr/testify/assert"
)

func samePair() models.ForwardingPair {
	return models.ForwardingPair{
		ID:              "pair-1",
		SourceAccountID: "tg-1",
		SourceChatID:    "100",
		SourcePlatform:  models.PlatformTelegram,
		DestAccountID:   "tg-1",
		DestChatID:      "200",
		DestPlatform:    models.PlatformTelegram,
	}
}

func inbound(text string) models.InboundMessage {
	return models.InboundMessage{
		AccountID: "tg-1",
		Platform:  models.PlatformTelegram,
		ChatID:    "100",
		MessageID: "7",
		Kind:      models.MessageNew,
		Text:      text,
		ChatTitle: "Signals",
	}
}

func TestTransform_Filters(t *testing.T) {
	tests := []struct {
		name    string
		filters models.FilterConfig
		msg     models.InboundMessage
		reason  string
	}{
		{
			name:    "blocked text is case insensitive",
			filters: models.FilterConfig{BlockedText: []string{"SPAM"}},
			msg:     inbound("buy this spam now"),
			reason:  DropBlockedText,
		},
		{
			name:    "required keyword missing",
			filters: models.FilterConfig{RequiredText: []string{"btc", "eth"}},
			msg:     inbound("nothing relevant"),
			reason:  DropMissingText,
		},
		{
			name:    "blocked image",
			filters: models.FilterConfig{BlockImages: true},
			msg: func() models.InboundMessage {
				m := inbound("look")
				m.HasImage = true
				return m
			}(),
			reason: DropBlockedImage,
		},
		{
			name:   "empty after edits",
			msg:    inbound("   "),
			reason: DropEmpty,
		},
		{
			name:    "required keyword present passes",
			filters: models.FilterConfig{RequiredText: []string{"btc", "eth"}},
			msg:     inbound("ETH breakout"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair := samePair()
			pair.Filters = tt.filters
			result := Transform(pair, tt.msg)
			assert.Equal(t, tt.reason != "", result.Dropped)
			assert.Equal(t, tt.reason, result.Reason)
		})
	}
}

func TestTransform_PipelineOrder(t *testing.T) {
	pair := samePair()
	pair.Mode.CopyMode = true
	pair.Mode.StripMentions = true
	pair.Filters.Replacements = []models.ReplaceRule{
		{Search: "Binance", Replace: "@exchange"},
		{Search: `\d+%`, Replace: "N%", Regex: true},
	}
	pair.Edit = models.EditConfig{
		RemoveHeader: true,
		RemoveFooter: true,
		Header:       "[VIP]",
		Footer:       "-- relayed",
	}

	msg := inbound("old header\nBuy on Binance, up 12% @trader_joe\nold footer")
	result := Transform(pair, msg)

	assert.False(t, result.Dropped)
	// Replacement output is stripped too because mentions run after replacements.
	assert.Equal(t, "[VIP]\nBuy on , up N%\n-- relayed", result.Payload.Text)
	assert.Empty(t, result.Payload.Attribution)
	assert.False(t, result.Payload.Forward)
}

func TestTransform_Deterministic(t *testing.T) {
	pair := samePair()
	pair.Filters.Replacements = []models.ReplaceRule{{Search: "a+", Replace: "b", Regex: true}}
	pair.Edit.Header = "H"
	msg := inbound("aaa banana")

	first := Transform(pair, msg)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Transform(pair, msg))
	}
}

func TestTransform_ReapplyingDuplicatesHeaders(t *testing.T) {
	pair := samePair()
	pair.Mode.CopyMode = true
	pair.Edit = models.EditConfig{Header: "HEAD", Footer: "FOOT"}

	once := Transform(pair, inbound("body"))
	twice := Transform(pair, inbound(once.Payload.Text))

	assert.Equal(t, "HEAD\nbody\nFOOT", once.Payload.Text)
	assert.Equal(t, "HEAD\nHEAD\nbody\nFOOT\nFOOT", twice.Payload.Text)
}

func TestTransform_RemoveHeaderKeepsSingleLine(t *testing.T) {
	pair := samePair()
	pair.Mode.CopyMode = true
	pair.Edit = models.EditConfig{RemoveHeader: true, RemoveFooter: true}

	assert.Equal(t, "only", Transform(pair, inbound("only")).Payload.Text)
	assert.Equal(t, "b", Transform(pair, inbound("a\nb\nc")).Payload.Text)
}

func TestTransform_StripMentions(t *testing.T) {
	pair := samePair()
	pair.Mode.CopyMode = true
	pair.Mode.StripMentions = true

	result := Transform(pair, inbound("hi <@123456> and <@&42> @everyone  see @alice_bob\nno mentions here"))
	assert.Equal(t, "hi and see\nno mentions here", result.Payload.Text)
}

func TestTransform_PayloadModes(t *testing.T) {
	t.Run("same platform forward", func(t *testing.T) {
		pair := samePair()
		pair.Mode.SilentMode = true
		payload := Transform(pair, inbound("hello")).Payload
		assert.True(t, payload.Forward)
		assert.True(t, payload.Silent)
		assert.Equal(t, "100", payload.SourceChatID)
		assert.Equal(t, "7", payload.SourceMessageID)
	})

	t.Run("same platform rewritten falls back to attributed copy", func(t *testing.T) {
		pair := samePair()
		pair.Edit.Footer = "footer"
		payload := Transform(pair, inbound("hello")).Payload
		assert.False(t, payload.Forward)
		assert.Equal(t, "Forwarded from Signals", payload.Attribution)
	})

	t.Run("cross platform attribution", func(t *testing.T) {
		pair := samePair()
		pair.DestPlatform = models.PlatformDiscord
		msg := inbound("hello")
		msg.Author = "alice"
		payload := Transform(pair, msg).Payload
		assert.False(t, payload.Forward)
		assert.Equal(t, "Forwarded from Signals (alice)", payload.Attribution)
		assert.Equal(t, "Forwarded from Signals (alice)\nhello", payload.Body())
	})

	t.Run("copy mode authors fresh content", func(t *testing.T) {
		pair := samePair()
		pair.DestPlatform = models.PlatformDiscord
		pair.Mode.CopyMode = true
		payload := Transform(pair, inbound("hello")).Payload
		assert.False(t, payload.Forward)
		assert.Empty(t, payload.Attribution)
		assert.Equal(t, "hello", payload.Body())
	})
}

func TestTransform_MediaOnlyMessages(t *testing.T) {
	photo := func() models.InboundMessage {
		m := inbound("")
		m.HasImage = true
		m.HasMedia = true
		m.Attachments = []models.Attachment{{Kind: models.AttachmentPhoto, FileID: "AgACAgIAAx"}}
		return m
	}

	t.Run("copy mode carries the attachments", func(t *testing.T) {
		pair := samePair()
		pair.Mode.CopyMode = true
		result := Transform(pair, photo())
		assert.False(t, result.Dropped)
		assert.False(t, result.Payload.Forward)
		assert.Empty(t, result.Payload.Body())
		assert.Equal(t, []models.Attachment{{Kind: models.AttachmentPhoto, FileID: "AgACAgIAAx"}}, result.Payload.Attachments)
	})

	t.Run("cross platform keeps attribution as caption", func(t *testing.T) {
		pair := samePair()
		pair.DestPlatform = models.PlatformDiscord
		result := Transform(pair, photo())
		assert.False(t, result.Dropped)
		assert.Equal(t, "Forwarded from Signals", result.Payload.Body())
		assert.Len(t, result.Payload.Attachments, 1)
	})

	t.Run("same platform forwards natively", func(t *testing.T) {
		msg := photo()
		msg.Attachments = nil
		result := Transform(samePair(), msg)
		assert.False(t, result.Dropped)
		assert.True(t, result.Payload.Forward)
	})

	t.Run("copy of uncarriable media is dropped", func(t *testing.T) {
		pair := samePair()
		pair.Mode.CopyMode = true
		msg := photo()
		msg.Attachments = nil
		result := Transform(pair, msg)
		assert.True(t, result.Dropped)
		assert.Equal(t, DropEmpty, result.Reason)
	})
}
