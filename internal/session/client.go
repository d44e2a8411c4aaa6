// Package session owns the live connection of every linked account: it
// connects platform clients, watches their health, reconnects them with
// backoff and routes sends through them.
package session

import (
	"context"
	"errors"
	"time"

	"autoforwardx/internal/models"
)

// ErrUnsupported is returned when a client lacks an optional capability.
var ErrUnsupported = errors.New("operation not supported by platform client")

// MessageHandler receives every message a client observes.
type MessageHandler func(ctx context.Context, msg models.InboundMessage)

// Client is a connected platform session. Implementations classify their
// failures as internal/errors AppErrors (session auth, rate limit, transient
// or permanent delivery).
type Client interface {
	Connect(ctx context.Context) error
	Probe(ctx context.Context) error
	Send(ctx context.Context, chatID string, payload models.Payload) (models.DeliveryResult, error)
	// Listen blocks, delivering inbound messages to handler until ctx is
	// cancelled or the connection fails.
	Listen(ctx context.Context, handler MessageHandler) error
	Close() error
}

// Editor is implemented by clients that can change already delivered messages.
type Editor interface {
	Edit(ctx context.Context, chatID, messageID string, payload models.Payload) error
	Delete(ctx context.Context, chatID, messageID string) error
}

// HistoryReader is implemented by clients that can re-read a chat after a
// known message id.
type HistoryReader interface {
	History(ctx context.Context, chatID, afterID string, limit int) ([]models.InboundMessage, error)
}

// MediaResolver is implemented by clients whose attachments are referenced
// by an id only they can read. ResolveMedia returns a URL another account
// can download the file from.
type MediaResolver interface {
	ResolveMedia(ctx context.Context, att models.Attachment) (string, error)
}

// ClientFactory builds a client for one account from its stored credential.
type ClientFactory func(account models.Account) (Client, error)

// AccountStore persists status transitions.
type AccountStore interface {
	UpdateAccountStatus(ctx context.Context, id string, status models.AccountStatus, reason string, lastSeen *time.Time) error
}
