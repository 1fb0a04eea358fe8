package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/conversation"
)

// fileDocument is the on-disk shape, one JSON document for the whole store.
type fileDocument struct {
	Clients []Client `json:"clients"`
}

// FileRepository persists clients to a single JSON file. Every write goes
// read-merge-write under the mutex and lands via temp-file rename, so a crash
// never leaves a half-written document.
type FileRepository struct {
	mu   sync.Mutex
	path string
}

func NewFileRepository(path string) (*FileRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("clients: file path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("clients: failed to create data directory: %w", err)
	}
	r := &FileRepository{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := r.write(fileDocument{Clients: []Client{}}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *FileRepository) List(ctx context.Context) ([]Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return nil, err
	}
	sort.Slice(doc.Clients, func(i, j int) bool {
		return doc.Clients[i].LastMessageAt.After(doc.Clients[j].LastMessageAt)
	})
	return doc.Clients, nil
}

func (r *FileRepository) Get(ctx context.Context, id string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return nil, err
	}
	for i := range doc.Clients {
		if doc.Clients[i].ID == id {
			c := doc.Clients[i]
			return &c, nil
		}
	}
	return nil, ErrClientNotFound
}

func (r *FileRepository) GetOrCreateByPhone(ctx context.Context, phone string) (*Client, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return nil, false, err
	}
	for i := range doc.Clients {
		if doc.Clients[i].Phone == phone {
			c := doc.Clients[i]
			return &c, false, nil
		}
	}
	// Synced clients are keyed by their number.
	for i := range doc.Clients {
		if doc.Clients[i].ID == phone {
			if doc.Clients[i].Phone == "" {
				doc.Clients[i].Phone = phone
				if err := r.write(doc); err != nil {
					return nil, false, err
				}
			}
			c := doc.Clients[i]
			return &c, false, nil
		}
	}

	now := time.Now().UTC()
	c := Client{
		ID:            uuid.New().String(),
		Phone:         phone,
		Name:          DefaultName(phone),
		Context:       conversation.NewContext(),
		CreatedAt:     now,
		LastMessageAt: now,
	}
	doc.Clients = append(doc.Clients, c)
	if err := r.write(doc); err != nil {
		return nil, false, err
	}
	return &c, true, nil
}

func (r *FileRepository) AppendMessage(ctx context.Context, clientID string, msg Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return false, err
	}
	for i := range doc.Clients {
		if doc.Clients[i].ID != clientID {
			continue
		}
		for _, existing := range doc.Clients[i].Messages {
			if existing.ID == msg.ID {
				return false, nil
			}
		}
		doc.Clients[i].Messages = append(doc.Clients[i].Messages, msg)
		if msg.Timestamp.After(doc.Clients[i].LastMessageAt) {
			doc.Clients[i].LastMessageAt = msg.Timestamp
		}
		if err := r.write(doc); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, ErrClientNotFound
}

func (r *FileRepository) UpdateContext(ctx context.Context, clientID string, cc conversation.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return err
	}
	for i := range doc.Clients {
		if doc.Clients[i].ID == clientID {
			doc.Clients[i].Context = cc
			return r.write(doc)
		}
	}
	return ErrClientNotFound
}

func (r *FileRepository) SaveBatch(ctx context.Context, batch []Client) error {
	if len(batch) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return err
	}

	index := make(map[string]int, len(doc.Clients))
	for i := range doc.Clients {
		index[doc.Clients[i].ID] = i
	}

	for _, incoming := range batch {
		normalizeIdentity(&incoming)
		i, ok := index[incoming.ID]
		if !ok {
			index[incoming.ID] = len(doc.Clients)
			doc.Clients = append(doc.Clients, incoming)
			continue
		}
		existing := &doc.Clients[i]
		existing.Name = incoming.Name
		existing.Context = incoming.Context
		existing.Messages = mergeMessages(existing.Messages, incoming.Messages)
		if incoming.Phone != "" {
			existing.Phone = incoming.Phone
		}
		if incoming.LastMessageAt.After(existing.LastMessageAt) {
			existing.LastMessageAt = incoming.LastMessageAt
		}
	}
	return r.write(doc)
}

func (r *FileRepository) read() (fileDocument, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fileDocument{}, fmt.Errorf("clients: failed to read store: %w", err)
	}
	var doc fileDocument
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fileDocument{}, fmt.Errorf("clients: failed to decode store: %w", err)
		}
	}
	return doc, nil
}

func (r *FileRepository) write(doc fileDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("clients: failed to encode store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".clients-*.json")
	if err != nil {
		return fmt.Errorf("clients: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("clients: failed to write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("clients: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("clients: failed to replace store: %w", err)
	}
	return nil
}
