// Package discord implements the session client for Discord bot accounts.
package discord

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"autoforwardx/internal/constants"
	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/models"
	"autoforwardx/internal/platform"
	"autoforwardx/internal/privacy"
	"autoforwardx/internal/session"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

const (
	platformName = string(models.PlatformDiscord)

	// maxHistoryPage is the largest page the channel messages endpoint returns.
	maxHistoryPage = 100
)

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the REST transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// Client is a Discord bot session.
type Client struct {
	token      string
	logger     *logrus.Logger
	httpClient *http.Client

	mu      sync.RWMutex
	session *discordgo.Session
	selfID  string
	handler session.MessageHandler
	removes []func()
}

// NewFactory returns the session factory for Discord accounts. The account
// credential is the bot token.
func NewFactory(logger *logrus.Logger) session.ClientFactory {
	return func(account models.Account) (session.Client, error) {
		return NewClient(account.Credential, logger)
	}
}

func NewClient(token string, logger *logrus.Logger, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bot "))
	if token == "" {
		return nil, apperrors.NewSessionAuthError(platformName, errors.New("empty bot token"))
	}
	c := &Client{token: token, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect builds the REST session and verifies the token against the
// current user endpoint. The gateway is opened by Listen.
func (c *Client) Connect(ctx context.Context) error {
	s, err := discordgo.New("Bot " + c.token)
	if err != nil {
		return apperrors.NewSessionAuthError(platformName, err)
	}
	// Rate limits surface to the queue, which owns retry timing.
	s.ShouldRetryOnRateLimit = false
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	if c.httpClient != nil {
		s.Client = c.httpClient
	}

	me, err := s.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return classify("connect", err)
	}

	c.mu.Lock()
	c.session = s
	c.selfID = me.ID
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		constants.LogFieldPlatform: platformName,
		"bot_username":             me.Username,
	}).Info("Discord bot connected")
	return nil
}

func (c *Client) Probe(ctx context.Context) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	if _, err := s.User("@me", discordgo.WithContext(ctx)); err != nil {
		return classify("probe", err)
	}
	return nil
}

// Send uses a native forward reference when requested, otherwise authors a
// message with the source attachments re-uploaded. Mentions in relayed text
// never ping.
func (c *Client) Send(ctx context.Context, chatID string, payload models.Payload) (models.DeliveryResult, error) {
	s, err := c.current()
	if err != nil {
		return models.DeliveryResult{}, err
	}

	data := &discordgo.MessageSend{AllowedMentions: &discordgo.MessageAllowedMentions{}}
	if payload.Silent {
		data.Flags |= discordgo.MessageFlagsSuppressNotifications
	}
	switch {
	case payload.Forward:
		data.Reference = &discordgo.MessageReference{
			Type:      discordgo.MessageReferenceTypeForward,
			MessageID: payload.SourceMessageID,
			ChannelID: payload.SourceChatID,
		}
	default:
		files, err := c.files(ctx, payload)
		if err != nil {
			return models.DeliveryResult{}, err
		}
		data.Files = files
		data.Content = payload.Body()
		if strings.TrimSpace(data.Content) == "" && len(files) == 0 {
			return models.DeliveryResult{}, apperrors.NewMediaUnavailableError("message has no text or media to send", nil)
		}
		if payload.ReplyToID != "" {
			failIfMissing := false
			data.Reference = &discordgo.MessageReference{
				MessageID:       payload.ReplyToID,
				ChannelID:       chatID,
				FailIfNotExists: &failIfMissing,
			}
		}
	}

	msg, err := s.ChannelMessageSendComplex(chatID, data, discordgo.WithContext(ctx))
	if err != nil {
		return models.DeliveryResult{}, classify("send", err)
	}
	return models.DeliveryResult{MessageID: msg.ID, DeliveredAt: time.Now().UTC()}, nil
}

// files downloads the payload's attachments. Items that are gone or too large
// are left out; a transient failure aborts so the whole message is retried.
func (c *Client) files(ctx context.Context, payload models.Payload) ([]*discordgo.File, error) {
	var files []*discordgo.File
	for _, att := range payload.Attachments {
		media, err := platform.Download(ctx, c.httpClient, att)
		if err != nil {
			if !apperrors.HasCode(err, apperrors.ErrCodeMediaUnavailable) {
				return nil, err
			}
			c.logger.WithError(err).WithField(constants.LogFieldMessageID, payload.SourceMessageID).Warn("Attachment left out of relayed message")
			continue
		}
		files = append(files, &discordgo.File{
			Name:        media.Name,
			ContentType: media.ContentType,
			Reader:      media.Reader(),
		})
	}
	return files, nil
}

func (c *Client) Edit(ctx context.Context, chatID, messageID string, payload models.Payload) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	if _, err := s.ChannelMessageEdit(chatID, messageID, payload.Body(), discordgo.WithContext(ctx)); err != nil {
		return classify("edit", err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, chatID, messageID string) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	if err := s.ChannelMessageDelete(chatID, messageID, discordgo.WithContext(ctx)); err != nil {
		return classify("delete", err)
	}
	return nil
}

// History returns up to limit messages posted after afterID, oldest first.
func (c *Client) History(ctx context.Context, chatID, afterID string, limit int) ([]models.InboundMessage, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxHistoryPage {
		limit = maxHistoryPage
	}
	page, err := s.ChannelMessages(chatID, limit, "", afterID, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("history", err)
	}

	c.mu.RLock()
	selfID := c.selfID
	c.mu.RUnlock()

	out := make([]models.InboundMessage, 0, len(page))
	for _, m := range page {
		if m == nil || (m.Author != nil && m.Author.ID == selfID) {
			continue
		}
		msg := convertMessage(m, models.MessageNew)
		// Replayed messages keep their posting time so delays count from it.
		if ts, err := discordgo.SnowflakeTimestamp(m.ID); err == nil {
			msg.ArrivedAt = ts.UTC()
		}
		out = append(out, msg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return snowflakeLess(out[i].MessageID, out[j].MessageID)
	})
	return out, nil
}

// Listen opens the gateway and blocks until ctx is cancelled.
func (c *Client) Listen(ctx context.Context, handler session.MessageHandler) error {
	s, err := c.current()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.handler = handler
	c.removes = append(c.removes,
		s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			c.deliver(ctx, m.Message, models.MessageNew)
		}),
		s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
			c.deliver(ctx, m.Message, models.MessageEdited)
		}),
		s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageDelete) {
			c.deliver(ctx, m.Message, models.MessageDeleted)
		}),
	)
	c.mu.Unlock()

	if err := s.Open(); err != nil {
		return apperrors.NewTransientDeliveryError("gateway open", err)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *Client) Close() error {
	c.mu.Lock()
	s := c.session
	removes := c.removes
	c.session = nil
	c.handler = nil
	c.removes = nil
	c.mu.Unlock()

	for _, remove := range removes {
		remove()
	}
	if s == nil {
		return nil
	}
	return s.Close()
}

func (c *Client) current() (*discordgo.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, apperrors.NewSessionUnavailableError(platformName, "not connected")
	}
	return c.session, nil
}

func (c *Client) deliver(ctx context.Context, m *discordgo.Message, kind models.MessageKind) {
	if m == nil {
		return
	}
	c.mu.RLock()
	handler, selfID := c.handler, c.selfID
	c.mu.RUnlock()
	// Our own relayed copies must not loop back into the pipeline.
	if handler == nil || (m.Author != nil && m.Author.ID == selfID) {
		return
	}
	msg := convertMessage(m, kind)
	c.logger.WithFields(logrus.Fields{
		constants.LogFieldChatID:    privacy.MaskChatID(msg.ChatID),
		constants.LogFieldMessageID: msg.MessageID,
	}).Debug("Discord message received")
	handler(ctx, msg)
}

func convertMessage(m *discordgo.Message, kind models.MessageKind) models.InboundMessage {
	msg := models.InboundMessage{
		Platform:  models.PlatformDiscord,
		ChatID:    m.ChannelID,
		MessageID: m.ID,
		Kind:      kind,
		Text:      m.Content,
		HasMedia:  len(m.Attachments) > 0 || len(m.Embeds) > 0,
		ArrivedAt: time.Now().UTC(),
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		kind := models.AttachmentDocument
		if strings.HasPrefix(a.ContentType, "image/") {
			kind = models.AttachmentPhoto
			msg.HasImage = true
		}
		if a.URL == "" {
			continue
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Kind:        kind,
			URL:         a.URL,
			FileName:    a.Filename,
			ContentType: a.ContentType,
			Size:        int64(a.Size),
		})
	}
	if m.Author != nil {
		msg.Author = m.Author.Username
	}
	if m.MessageReference != nil && m.MessageReference.Type == discordgo.MessageReferenceTypeDefault {
		msg.ReplyToID = m.MessageReference.MessageID
	}
	return msg
}

func snowflakeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// classify maps discordgo REST failures onto the delivery error taxonomy.
func classify(operation string, err error) error {
	var rateLimited *discordgo.RateLimitError
	var restErr *discordgo.RESTError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &rateLimited):
		var retryAfter time.Duration
		if rateLimited.RateLimit != nil && rateLimited.TooManyRequests != nil {
			retryAfter = rateLimited.RetryAfter
		}
		return apperrors.NewRateLimitExceeded(platformName, retryAfter, err)
	case errors.Is(err, discordgo.ErrUnauthorized):
		return apperrors.NewSessionAuthError(platformName, err)
	case errors.As(err, &restErr):
		return classifyREST(operation, restErr)
	}
	return apperrors.NewTransientDeliveryError(operation, err)
}

func classifyREST(operation string, restErr *discordgo.RESTError) error {
	status := 0
	if restErr.Response != nil {
		status = restErr.Response.StatusCode
	}
	code := 0
	if restErr.Message != nil {
		code = restErr.Message.Code
	}

	switch {
	case status == http.StatusUnauthorized:
		return apperrors.NewSessionAuthError(platformName, restErr)
	case code == discordgo.ErrCodeUnknownChannel, code == discordgo.ErrCodeUnknownMessage:
		return apperrors.NewPermanentDeliveryError(operation, "unknown channel or message", restErr)
	case code == discordgo.ErrCodeMissingAccess, code == discordgo.ErrCodeMissingPermissions, status == http.StatusForbidden:
		return apperrors.NewPermanentDeliveryError(operation, "bot lacks access to the channel", restErr)
	case status >= 500, status == 0:
		return apperrors.NewTransientDeliveryError(operation, restErr)
	case status >= 400:
		return apperrors.NewPermanentDeliveryError(operation, "request rejected by discord", restErr)
	}
	return apperrors.NewTransientDeliveryError(operation, restErr)
}
