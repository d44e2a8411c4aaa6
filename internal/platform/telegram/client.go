// Package telegram implements the session client for Telegram accounts on
// top of the Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"autoforwardx/internal/constants"
	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/models"
	"autoforwardx/internal/platform"
	"autoforwardx/internal/privacy"
	"autoforwardx/internal/session"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
)

const platformName = string(models.PlatformTelegram)

// Client is a Bot API session bound to one bot token.
type Client struct {
	token   string
	apiURL  string
	logger  *logrus.Logger
	options []bot.Option

	mu      sync.RWMutex
	bot     *bot.Bot
	self    *botModels.User
	handler session.MessageHandler
}

// NewFactory returns the session factory for Telegram accounts. The account
// credential is the bot token.
func NewFactory(cfg models.TelegramConfig, logger *logrus.Logger) session.ClientFactory {
	return func(account models.Account) (session.Client, error) {
		return NewClient(account.Credential, cfg.APIURL, logger)
	}
}

// NewClient validates the token shape; the network is not touched until Connect.
func NewClient(token, apiURL string, logger *logrus.Logger, options ...bot.Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" || !strings.Contains(token, ":") {
		return nil, apperrors.NewSessionAuthError(platformName, errors.New("malformed bot token"))
	}
	return &Client{
		token:   token,
		apiURL:  strings.TrimRight(apiURL, "/"),
		logger:  logger,
		options: options,
	}, nil
}

// Connect creates the bot and checks the token with getMe.
func (c *Client) Connect(ctx context.Context) error {
	opts := []bot.Option{
		bot.WithSkipGetMe(),
		bot.WithDefaultHandler(c.onUpdate),
		bot.WithErrorsHandler(func(err error) {
			c.logger.WithError(err).WithField(constants.LogFieldPlatform, platformName).Debug("Telegram polling error")
		}),
	}
	if c.apiURL != "" {
		opts = append(opts, bot.WithServerURL(c.apiURL))
	}
	opts = append(opts, c.options...)

	b, err := bot.New(c.token, opts...)
	if err != nil {
		return apperrors.NewSessionAuthError(platformName, err)
	}
	me, err := b.GetMe(ctx)
	if err != nil {
		return classify("connect", err)
	}

	c.mu.Lock()
	c.bot = b
	c.self = me
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		constants.LogFieldPlatform: platformName,
		"bot_username":             me.Username,
	}).Info("Telegram bot connected")
	return nil
}

// Probe re-runs getMe.
func (c *Client) Probe(ctx context.Context) error {
	b, err := c.current()
	if err != nil {
		return err
	}
	if _, err := b.GetMe(ctx); err != nil {
		return classify("probe", err)
	}
	return nil
}

// Send forwards natively when asked to, re-sends media with the rewritten
// text as caption, and otherwise authors a plain text message. A payload with
// nothing to show is refused rather than sent empty.
func (c *Client) Send(ctx context.Context, chatID string, payload models.Payload) (models.DeliveryResult, error) {
	b, err := c.current()
	if err != nil {
		return models.DeliveryResult{}, err
	}

	var id int
	switch {
	case payload.Forward:
		sourceID, convErr := messageID(payload.SourceMessageID)
		if convErr != nil {
			return models.DeliveryResult{}, convErr
		}
		var msg *botModels.Message
		msg, err = b.ForwardMessage(ctx, &bot.ForwardMessageParams{
			ChatID:              chatRef(chatID),
			FromChatID:          chatRef(payload.SourceChatID),
			MessageID:           sourceID,
			DisableNotification: payload.Silent,
		})
		if err == nil {
			id = msg.ID
		}
	case len(payload.Attachments) > 0:
		id, err = c.sendMedia(ctx, b, chatID, payload)
	case strings.TrimSpace(payload.Body()) == "":
		return models.DeliveryResult{}, apperrors.NewMediaUnavailableError("message has no text or media to send", nil)
	default:
		id, err = sendText(ctx, b, chatID, payload.Body(), payload)
	}
	if err != nil {
		return models.DeliveryResult{}, classify("send", err)
	}
	return models.DeliveryResult{
		MessageID:   strconv.Itoa(id),
		DeliveredAt: time.Now().UTC(),
	}, nil
}

// sendMedia sends every attachment, captioning the first. Captions over the
// Bot API limit follow as a separate text message whose id is returned, so
// later edits land on the text. Only the first item is fatal: once it is out,
// a retry would duplicate it.
func (c *Client) sendMedia(ctx context.Context, b *bot.Bot, chatID string, payload models.Payload) (int, error) {
	body := payload.Body()
	caption, overflow := body, ""
	if !fitsCaption(body) {
		caption, overflow = "", body
	}

	firstID := 0
	for i, att := range payload.Attachments {
		text := ""
		if i == 0 {
			text = caption
		}
		id, err := c.sendAttachment(ctx, b, chatID, payload, att, text)
		if err != nil {
			if i == 0 {
				return 0, err
			}
			c.logger.WithError(err).WithFields(logrus.Fields{
				constants.LogFieldChatID:    privacy.MaskChatID(chatID),
				constants.LogFieldMessageID: payload.SourceMessageID,
			}).Warn("Dropped additional attachment")
			continue
		}
		if i == 0 {
			firstID = id
		}
	}
	if overflow == "" {
		return firstID, nil
	}
	textID, err := sendText(ctx, b, chatID, overflow, models.Payload{Silent: payload.Silent, ReplyToID: strconv.Itoa(firstID)})
	if err != nil {
		c.logger.WithError(err).WithField(constants.LogFieldMessageID, payload.SourceMessageID).Warn("Failed to send text following media")
		return firstID, nil
	}
	return textID, nil
}

// sendAttachment copies a file this bot can already read, or uploads a file
// downloaded from its resolved URL.
func (c *Client) sendAttachment(ctx context.Context, b *bot.Bot, chatID string, payload models.Payload, att models.Attachment, caption string) (int, error) {
	if att.URL == "" {
		return c.copyMedia(ctx, b, chatID, payload, caption)
	}

	media, err := platform.Download(ctx, nil, att)
	if err != nil {
		return 0, err
	}
	upload := &botModels.InputFileUpload{Filename: media.Name, Data: media.Reader()}
	var msg *botModels.Message
	if att.Kind == models.AttachmentPhoto {
		msg, err = b.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:              chatRef(chatID),
			Photo:               upload,
			Caption:             caption,
			DisableNotification: payload.Silent,
			ReplyParameters:     replyParameters(payload.ReplyToID),
		})
	} else {
		msg, err = b.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID:              chatRef(chatID),
			Document:            upload,
			Caption:             caption,
			DisableNotification: payload.Silent,
			ReplyParameters:     replyParameters(payload.ReplyToID),
		})
	}
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

// copyMedia re-posts the source message without attribution, replacing its
// caption. copyMessage keeps the original caption when none is given, so a
// blank caption is cleared with a follow-up edit.
func (c *Client) copyMedia(ctx context.Context, b *bot.Bot, chatID string, payload models.Payload, caption string) (int, error) {
	sourceID, err := messageID(payload.SourceMessageID)
	if err != nil {
		return 0, err
	}
	copied, err := b.CopyMessage(ctx, &bot.CopyMessageParams{
		ChatID:              chatRef(chatID),
		FromChatID:          chatRef(payload.SourceChatID),
		MessageID:           sourceID,
		Caption:             caption,
		DisableNotification: payload.Silent,
		ReplyParameters:     replyParameters(payload.ReplyToID),
	})
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(caption) == "" {
		if _, err := b.EditMessageCaption(ctx, &bot.EditMessageCaptionParams{
			ChatID:    chatRef(chatID),
			MessageID: copied.ID,
		}); err != nil {
			// "message is not modified" when the source had no caption.
			c.logger.WithError(err).Debug("Caption clear skipped")
		}
	}
	return copied.ID, nil
}

func sendText(ctx context.Context, b *bot.Bot, chatID, text string, payload models.Payload) (int, error) {
	msg, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:              chatRef(chatID),
		Text:                text,
		DisableNotification: payload.Silent,
		ReplyParameters:     replyParameters(payload.ReplyToID),
	})
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func replyParameters(replyToID string) *botModels.ReplyParameters {
	id, err := messageID(replyToID)
	if err != nil {
		return nil
	}
	return &botModels.ReplyParameters{MessageID: id, AllowSendingWithoutReply: true}
}

func fitsCaption(text string) bool {
	return utf8.RuneCountInString(text) <= constants.MaxTelegramCaptionLen
}

// ResolveMedia turns a file id into a download link. The link embeds the bot
// token and must not be logged.
func (c *Client) ResolveMedia(ctx context.Context, att models.Attachment) (string, error) {
	b, err := c.current()
	if err != nil {
		return "", err
	}
	if att.FileID == "" {
		return "", apperrors.NewMediaUnavailableError("attachment has no file id", nil)
	}
	file, err := b.GetFile(ctx, &bot.GetFileParams{FileID: att.FileID})
	if err != nil {
		// Bot API refuses getFile for files over 20MB with a 400.
		if errors.Is(err, bot.ErrorBadRequest) || errors.Is(err, bot.ErrorNotFound) {
			return "", apperrors.NewMediaUnavailableError("telegram file cannot be fetched", err)
		}
		return "", classify("get_file", err)
	}
	return b.FileDownloadLink(file), nil
}

// Edit replaces the text, or the caption of a media message, the bot sent
// earlier.
func (c *Client) Edit(ctx context.Context, chatID, msgID string, payload models.Payload) error {
	b, err := c.current()
	if err != nil {
		return err
	}
	id, err := messageID(msgID)
	if err != nil {
		return err
	}
	body := payload.Body()
	if len(payload.Attachments) > 0 && fitsCaption(body) {
		_, err = b.EditMessageCaption(ctx, &bot.EditMessageCaptionParams{
			ChatID:    chatRef(chatID),
			MessageID: id,
			Caption:   body,
		})
	} else {
		_, err = b.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:    chatRef(chatID),
			MessageID: id,
			Text:      body,
		})
	}
	if err != nil {
		return classify("edit", err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, chatID, msgID string) error {
	b, err := c.current()
	if err != nil {
		return err
	}
	id, err := messageID(msgID)
	if err != nil {
		return err
	}
	if _, err := b.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatRef(chatID),
		MessageID: id,
	}); err != nil {
		return classify("delete", err)
	}
	return nil
}

// Listen long-polls for updates until ctx is cancelled.
func (c *Client) Listen(ctx context.Context, handler session.MessageHandler) error {
	b, err := c.current()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()

	b.Start(ctx)
	return ctx.Err()
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.bot = nil
	c.handler = nil
	c.mu.Unlock()
	return nil
}

func (c *Client) current() (*bot.Bot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.bot == nil {
		return nil, apperrors.NewSessionUnavailableError(platformName, "not connected")
	}
	return c.bot, nil
}

func (c *Client) onUpdate(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil || update == nil {
		return
	}
	msg, ok := convertUpdate(update)
	if !ok {
		return
	}
	c.logger.WithFields(logrus.Fields{
		constants.LogFieldChatID:    privacy.MaskChatID(msg.ChatID),
		constants.LogFieldMessageID: msg.MessageID,
	}).Debug("Telegram update received")
	handler(ctx, msg)
}

// convertUpdate maps the message-bearing update kinds. Bots receive no
// deletion updates, so only new and edited messages are produced.
func convertUpdate(update *botModels.Update) (models.InboundMessage, bool) {
	switch {
	case update.Message != nil:
		return convertMessage(update.Message, models.MessageNew), true
	case update.ChannelPost != nil:
		return convertMessage(update.ChannelPost, models.MessageNew), true
	case update.EditedMessage != nil:
		return convertMessage(update.EditedMessage, models.MessageEdited), true
	case update.EditedChannelPost != nil:
		return convertMessage(update.EditedChannelPost, models.MessageEdited), true
	}
	return models.InboundMessage{}, false
}

func convertMessage(m *botModels.Message, kind models.MessageKind) models.InboundMessage {
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	msg := models.InboundMessage{
		Platform:  models.PlatformTelegram,
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		MessageID: strconv.Itoa(m.ID),
		Kind:      kind,
		Text:      text,
		HasImage:  len(m.Photo) > 0,
		HasMedia:  len(m.Photo) > 0 || m.Video != nil || m.Document != nil || m.Audio != nil || m.Voice != nil || m.Animation != nil || m.Sticker != nil,
		ChatTitle: m.Chat.Title,
		ArrivedAt: time.Now().UTC(),
	}
	if att, ok := attachmentOf(m); ok {
		msg.Attachments = []models.Attachment{att}
	}
	if m.Chat.Title == "" && m.Chat.Username != "" {
		msg.ChatTitle = "@" + m.Chat.Username
	}
	if m.ReplyToMessage != nil {
		msg.ReplyToID = strconv.Itoa(m.ReplyToMessage.ID)
	}
	switch {
	case m.From != nil && m.From.Username != "":
		msg.Author = m.From.Username
	case m.From != nil:
		msg.Author = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
	case m.AuthorSignature != "":
		msg.Author = m.AuthorSignature
	}
	return msg
}

// attachmentOf picks the file a copy can carry. Photos come in several
// sizes; the largest is last. Stickers have no upload equivalent.
func attachmentOf(m *botModels.Message) (models.Attachment, bool) {
	switch {
	case len(m.Photo) > 0:
		p := m.Photo[len(m.Photo)-1]
		return models.Attachment{Kind: models.AttachmentPhoto, FileID: p.FileID, Size: int64(p.FileSize)}, true
	case m.Video != nil:
		return models.Attachment{Kind: models.AttachmentVideo, FileID: m.Video.FileID, FileName: m.Video.FileName, ContentType: m.Video.MimeType, Size: m.Video.FileSize}, true
	case m.Animation != nil:
		return models.Attachment{Kind: models.AttachmentDocument, FileID: m.Animation.FileID, FileName: m.Animation.FileName, ContentType: m.Animation.MimeType, Size: m.Animation.FileSize}, true
	case m.Document != nil:
		return models.Attachment{Kind: models.AttachmentDocument, FileID: m.Document.FileID, FileName: m.Document.FileName, ContentType: m.Document.MimeType, Size: m.Document.FileSize}, true
	case m.Audio != nil:
		return models.Attachment{Kind: models.AttachmentAudio, FileID: m.Audio.FileID, FileName: m.Audio.FileName, ContentType: m.Audio.MimeType, Size: m.Audio.FileSize}, true
	case m.Voice != nil:
		return models.Attachment{Kind: models.AttachmentAudio, FileID: m.Voice.FileID, ContentType: m.Voice.MimeType, Size: m.Voice.FileSize}, true
	}
	return models.Attachment{}, false
}

// chatRef passes numeric ids as int64 and public usernames as-is.
func chatRef(chatID string) any {
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return id
	}
	return chatID
}

func messageID(id string) (int, error) {
	n, err := strconv.Atoi(id)
	if err != nil || n <= 0 {
		return 0, apperrors.NewPermanentDeliveryError("telegram", "invalid message id "+strconv.Quote(id), err)
	}
	return n, nil
}

// classify maps Bot API failures onto the delivery error taxonomy.
func classify(operation string, err error) error {
	var tooMany *bot.TooManyRequestsError
	var migrated *bot.MigrateError
	if _, ok := apperrors.As(err); ok {
		return err
	}
	switch {
	case err == nil:
		return nil
	case errors.As(err, &tooMany):
		return apperrors.NewRateLimitExceeded(platformName, time.Duration(tooMany.RetryAfter)*time.Second, err)
	case errors.As(err, &migrated):
		return apperrors.NewPermanentDeliveryError(operation, fmt.Sprintf("chat migrated to %d", migrated.MigrateToChatID), err)
	case errors.Is(err, bot.ErrorUnauthorized):
		return apperrors.NewSessionAuthError(platformName, err)
	case errors.Is(err, bot.ErrorForbidden):
		return apperrors.NewPermanentDeliveryError(operation, "bot lacks access to the chat", err)
	case errors.Is(err, bot.ErrorBadRequest), errors.Is(err, bot.ErrorNotFound):
		return apperrors.NewPermanentDeliveryError(operation, "request rejected by telegram", err)
	}
	return apperrors.NewTransientDeliveryError(operation, err)
}
