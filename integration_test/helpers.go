package integration_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/models"
	"autoforwardx/internal/session"
)

// SentMessage is one message a fake client authored on a destination chat.
type SentMessage struct {
	AccountID string
	ChatID    string
	MessageID string
	Payload   models.Payload
	Edited    bool
	Deleted   bool
}

// FakeNetwork stands in for both platforms. Every client built by its factory
// shares the same message log, listeners and chat history.
type FakeNetwork struct {
	mu        sync.Mutex
	nextID    int
	sent      []*SentMessage
	listeners map[string]session.MessageHandler
	history   map[string][]models.InboundMessage
	rejected  map[string]bool
	connects  map[string]int
}

// NewFakeNetwork creates an empty network.
func NewFakeNetwork() *FakeNetwork {
	return &FakeNetwork{
		nextID:    9000,
		listeners: make(map[string]session.MessageHandler),
		history:   make(map[string][]models.InboundMessage),
		rejected:  make(map[string]bool),
		connects:  make(map[string]int),
	}
}

// Factory returns a session.ClientFactory backed by the network.
func (n *FakeNetwork) Factory() session.ClientFactory {
	return func(account models.Account) (session.Client, error) {
		return &fakeClient{net: n, account: account}, nil
	}
}

// Reject makes every connect with credential fail as a revoked token.
func (n *FakeNetwork) Reject(credential string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected[credential] = true
}

// SetHistory seeds the messages History returns for a source chat.
func (n *FakeNetwork) SetHistory(chatID string, msgs ...models.InboundMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.history[chatID] = append([]models.InboundMessage(nil), msgs...)
}

// Listening reports whether the account's listener is running.
func (n *FakeNetwork) Listening(accountID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.listeners[accountID]
	return ok
}

// Inject delivers msg to the account's listener as if it arrived on the platform.
func (n *FakeNetwork) Inject(ctx context.Context, accountID string, msg models.InboundMessage) error {
	n.mu.Lock()
	handler, ok := n.listeners[accountID]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("account %s is not listening", accountID)
	}
	handler(ctx, msg)
	return nil
}

// SentTo returns copies of everything delivered to chatID, in order.
func (n *FakeNetwork) SentTo(chatID string) []SentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []SentMessage
	for _, m := range n.sent {
		if m.ChatID == chatID {
			out = append(out, *m)
		}
	}
	return out
}

// Connects counts successful connects per account.
func (n *FakeNetwork) Connects(accountID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connects[accountID]
}

func (n *FakeNetwork) find(chatID, messageID string) *SentMessage {
	for _, m := range n.sent {
		if m.ChatID == chatID && m.MessageID == messageID {
			return m
		}
	}
	return nil
}

type fakeClient struct {
	net     *FakeNetwork
	account models.Account
}

var (
	_ session.Client        = (*fakeClient)(nil)
	_ session.Editor        = (*fakeClient)(nil)
	_ session.HistoryReader = (*fakeClient)(nil)
)

func (c *fakeClient) Connect(context.Context) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if c.net.rejected[c.account.Credential] {
		return apperrors.NewSessionAuthError(string(c.account.Platform), errors.New("401 Unauthorized"))
	}
	c.net.connects[c.account.ID]++
	return nil
}

func (c *fakeClient) Probe(context.Context) error { return nil }

func (c *fakeClient) Send(_ context.Context, chatID string, payload models.Payload) (models.DeliveryResult, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	c.net.nextID++
	id := strconv.Itoa(c.net.nextID)
	c.net.sent = append(c.net.sent, &SentMessage{
		AccountID: c.account.ID,
		ChatID:    chatID,
		MessageID: id,
		Payload:   payload,
	})
	return models.DeliveryResult{MessageID: id, DeliveredAt: time.Now()}, nil
}

func (c *fakeClient) Listen(ctx context.Context, handler session.MessageHandler) error {
	c.net.mu.Lock()
	c.net.listeners[c.account.ID] = handler
	c.net.mu.Unlock()

	<-ctx.Done()

	c.net.mu.Lock()
	delete(c.net.listeners, c.account.ID)
	c.net.mu.Unlock()
	return nil
}

func (c *fakeClient) Close() error { return nil }

func (c *fakeClient) Edit(_ context.Context, chatID, messageID string, payload models.Payload) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	m := c.net.find(chatID, messageID)
	if m == nil {
		return apperrors.NewPermanentDeliveryError("edit", "message not found", nil)
	}
	m.Payload = payload
	m.Edited = true
	return nil
}

func (c *fakeClient) Delete(_ context.Context, chatID, messageID string) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	m := c.net.find(chatID, messageID)
	if m == nil {
		return apperrors.NewPermanentDeliveryError("delete", "message not found", nil)
	}
	m.Deleted = true
	return nil
}

func (c *fakeClient) History(_ context.Context, chatID, afterID string, limit int) ([]models.InboundMessage, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	var out []models.InboundMessage
	for _, msg := range c.net.history[chatID] {
		if len(out) == limit {
			break
		}
		if afterID != "" && msg.MessageID <= afterID {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}
