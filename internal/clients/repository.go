package clients

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/conversation"
)

// ErrClientNotFound is returned when the requested client does not exist.
var ErrClientNotFound = errors.New("clients: client not found")

// Repository stores leads and their message logs. Message writes are
// set-union by message ID: a message present anywhere is never lost to a
// concurrent writer. Scalar fields (name, context) are last-writer-wins.
type Repository interface {
	List(ctx context.Context) ([]Client, error)
	Get(ctx context.Context, id string) (*Client, error)
	GetOrCreateByPhone(ctx context.Context, phone string) (*Client, bool, error)
	AppendMessage(ctx context.Context, clientID string, msg Message) (bool, error)
	UpdateContext(ctx context.Context, clientID string, c conversation.Context) error
	SaveBatch(ctx context.Context, batch []Client) error
}

// InMemoryRepository keeps clients in a map. Used for tests and local runs.
type InMemoryRepository struct {
	mu      sync.RWMutex
	clients map[string]*Client
	byPhone map[string]string
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		clients: make(map[string]*Client),
		byPhone: make(map[string]string),
	}
}

func (r *InMemoryRepository) List(ctx context.Context) ([]Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, cloneClient(c))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (r *InMemoryRepository) Get(ctx context.Context, id string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	out := cloneClient(c)
	return &out, nil
}

func (r *InMemoryRepository) GetOrCreateByPhone(ctx context.Context, phone string) (*Client, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byPhone[phone]; ok {
		out := cloneClient(r.clients[id])
		return &out, false, nil
	}
	// Synced clients are keyed by their number.
	if c, ok := r.clients[phone]; ok {
		if c.Phone == "" {
			c.Phone = phone
		}
		r.byPhone[phone] = c.ID
		out := cloneClient(c)
		return &out, false, nil
	}

	now := time.Now().UTC()
	c := &Client{
		ID:            uuid.New().String(),
		Phone:         phone,
		Name:          DefaultName(phone),
		Context:       conversation.NewContext(),
		CreatedAt:     now,
		LastMessageAt: now,
	}
	r.clients[c.ID] = c
	r.byPhone[phone] = c.ID
	out := cloneClient(c)
	return &out, true, nil
}

func (r *InMemoryRepository) AppendMessage(ctx context.Context, clientID string, msg Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok {
		return false, ErrClientNotFound
	}
	for _, existing := range c.Messages {
		if existing.ID == msg.ID {
			return false, nil
		}
	}
	c.Messages = append(c.Messages, msg)
	if msg.Timestamp.After(c.LastMessageAt) {
		c.LastMessageAt = msg.Timestamp
	}
	return true, nil
}

func (r *InMemoryRepository) UpdateContext(ctx context.Context, clientID string, cc conversation.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}
	c.Context = cc
	return nil
}

func (r *InMemoryRepository) SaveBatch(ctx context.Context, batch []Client) error {
	if len(batch) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, incoming := range batch {
		normalizeIdentity(&incoming)
		existing, ok := r.clients[incoming.ID]
		if !ok {
			c := cloneClient(&incoming)
			r.clients[incoming.ID] = &c
			if incoming.Phone != "" {
				r.byPhone[incoming.Phone] = incoming.ID
			}
			continue
		}
		existing.Name = incoming.Name
		existing.Context = incoming.Context
		existing.Messages = mergeMessages(existing.Messages, incoming.Messages)
		if incoming.LastMessageAt.After(existing.LastMessageAt) {
			existing.LastMessageAt = incoming.LastMessageAt
		}
		if incoming.Phone != "" && incoming.Phone != existing.Phone {
			delete(r.byPhone, existing.Phone)
			existing.Phone = incoming.Phone
			r.byPhone[incoming.Phone] = incoming.ID
		}
	}
	return nil
}

func cloneClient(c *Client) Client {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}
