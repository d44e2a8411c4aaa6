// Package service is the operation surface of the engine. It ties accounts,
// pairs, the delivery queue and the event stream together for the transport
// layer and routes inbound messages from sessions into the queue.
package service

import (
	"context"
	"strings"
	"time"

	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/events"
	"autoforwardx/internal/features"
	"autoforwardx/internal/models"
	"autoforwardx/internal/session"

	"github.com/sirupsen/logrus"
)

// Store is the persistence the facade reads and writes directly.
type Store interface {
	EnsureUser(ctx context.Context, userID string) (*models.User, error)
	CreateAccountWithin(ctx context.Context, account *models.Account, max int) (bool, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]models.Account, error)
	DeleteAccount(ctx context.Context, id string) error
	CountAccountsByPlatform(ctx context.Context, userID string) (map[models.Platform]int, error)
	CountPairsByAccount(ctx context.Context, accountID string) (int, error)
	ListDeliveryLogs(ctx context.Context, userID, pairID string, limit int) ([]models.DeliveryLog, error)
}

// Sessions is the account session manager.
type Sessions interface {
	SetHandler(handler session.MessageHandler)
	Register(ctx context.Context, account models.Account) error
	Reconnect(ctx context.Context, accountID string) error
	Remove(accountID string)
	Health(accountID string) (models.HealthRecord, error)
	History(ctx context.Context, accountID, chatID, afterID string, limit int) ([]models.InboundMessage, error)
}

// Pairs is the forwarding pair registry.
type Pairs interface {
	WithUserLock(userID string, fn func() error) error
	Load(ctx context.Context) ([]models.ForwardingPair, error)
	Create(ctx context.Context, caller models.Caller, spec models.PairSpec) (*models.ForwardingPair, error)
	Update(ctx context.Context, caller models.Caller, id string, patch models.PairPatch) (*models.ForwardingPair, error)
	Pause(ctx context.Context, caller models.Caller, id string) (*models.ForwardingPair, error)
	Resume(ctx context.Context, caller models.Caller, id string) (*models.ForwardingPair, error)
	Delete(ctx context.Context, caller models.Caller, id string) error
	Get(ctx context.Context, caller models.Caller, id string) (*models.ForwardingPair, error)
	List(ctx context.Context, caller models.Caller, filter models.PairFilter) ([]models.ForwardingPair, error)
	Bulk(ctx context.Context, caller models.Caller, req models.BulkRequest) (*models.BulkResult, error)
}

// Dispatcher is the delivery queue entry point.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg models.InboundMessage) (int, error)
	Replay(ctx context.Context, pair models.ForwardingPair, msgs []models.InboundMessage) (int, error)
}

// Subscriber hands out per-user event subscriptions.
type Subscriber interface {
	Subscribe(userID string) *events.Subscription
}

// Service implements every user-facing operation. Each call carries the
// caller explicitly; ownership is checked against it.
type Service struct {
	store         Store
	sessions      Sessions
	pairs         Pairs
	dispatcher    Dispatcher
	subscriber    Subscriber
	flags         *features.FlagManager
	backfillLimit int
	logger        *logrus.Logger
	errLog        *apperrors.Logger
	now           func() time.Time
}

// NewService wires the facade. backfillLimit bounds history recovery per pair.
func NewService(store Store, sessions Sessions, pairs Pairs, dispatcher Dispatcher, subscriber Subscriber, flags *features.FlagManager, backfillLimit int, logger *logrus.Logger) *Service {
	if flags == nil {
		flags = features.NewFlagManager()
	}
	return &Service{
		store:         store,
		sessions:      sessions,
		pairs:         pairs,
		dispatcher:    dispatcher,
		subscriber:    subscriber,
		flags:         flags,
		backfillLimit: backfillLimit,
		logger:        logger,
		errLog:        apperrors.NewLogger(logger),
		now:           time.Now,
	}
}

// Subscribe opens the caller's event stream.
func (s *Service) Subscribe(caller models.Caller) (*events.Subscription, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	return s.subscriber.Subscribe(caller.UserID), nil
}

func checkCaller(caller models.Caller) error {
	if strings.TrimSpace(caller.UserID) == "" {
		return apperrors.NewAuthError("missing caller identity")
	}
	return nil
}
