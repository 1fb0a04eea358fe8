package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/clients"
)

func TestListClientsEmpty(t *testing.T) {
	h := NewClientSyncHandler(clients.NewInMemoryRepository(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
	rec := httptest.NewRecorder()
	h.ListClients(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Clients []clients.Client `json:"clients"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Clients == nil || len(resp.Clients) != 0 {
		t.Errorf("clients = %v, want empty array", resp.Clients)
	}
	if !strings.Contains(rec.Body.String(), `"clients":[]`) {
		t.Errorf("body = %s, want an empty array not null", rec.Body.String())
	}
}

func TestSyncClientsRoundtrip(t *testing.T) {
	repo := clients.NewInMemoryRepository()
	h := NewClientSyncHandler(repo, nil)

	batch := []clients.Client{
		{
			ID:    "c1",
			Phone: "919876543210",
			Name:  "Lead 3210",
			Messages: []clients.Message{
				{ID: "m1", Role: clients.MessageRoleUser, Text: "hi", Timestamp: time.Now().UTC()},
			},
		},
		{ID: "c2", Phone: "919876500000", Name: "Lead 0000"},
	}
	body, _ := json.Marshal(map[string]any{"clients": batch})

	req := httptest.NewRequest(http.MethodPost, "/api/clients", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.SyncClients(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"success":true`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	list, err := repo.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("clients after sync = %d", len(list))
	}
}

func TestSyncClientsMergesMessages(t *testing.T) {
	repo := clients.NewInMemoryRepository()
	h := NewClientSyncHandler(repo, nil)

	base := clients.Client{
		ID:    "c1",
		Phone: "1000",
		Messages: []clients.Message{
			{ID: "m1", Role: clients.MessageRoleUser, Text: "first", Timestamp: time.Now().UTC()},
		},
	}
	if err := repo.SaveBatch(context.Background(), []clients.Client{base}); err != nil {
		t.Fatal(err)
	}

	// A stale dashboard pushes the client without m1 but with a new m2.
	stale := base
	stale.Messages = []clients.Message{
		{ID: "m2", Role: clients.MessageRoleBot, Text: "second", Timestamp: time.Now().UTC()},
	}
	body, _ := json.Marshal(map[string]any{"clients": []clients.Client{stale}})
	rec := httptest.NewRecorder()
	h.SyncClients(rec, httptest.NewRequest(http.MethodPost, "/api/clients", bytes.NewReader(body)))

	c, err := repo.Get(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Messages) != 2 {
		t.Fatalf("messages = %d, want union of m1 and m2", len(c.Messages))
	}
}

func TestSyncClientsBadBody(t *testing.T) {
	h := NewClientSyncHandler(clients.NewInMemoryRepository(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/clients", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.SyncClients(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSyncClientsEmptyBatch(t *testing.T) {
	repo := clients.NewInMemoryRepository()
	h := NewClientSyncHandler(repo, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/clients", strings.NewReader(`{"clients": []}`))
	rec := httptest.NewRecorder()
	h.SyncClients(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
