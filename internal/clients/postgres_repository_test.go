package clients

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/conversation"
)

func newPgMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		mock.Close()
	})
	return mock
}

func TestPostgresAppendMessageInserts(t *testing.T) {
	mock := newPgMock(t)
	repo := NewPostgresRepository(mock)
	ts := time.Now().UTC()

	mock.ExpectExec("INSERT INTO client_messages").
		WithArgs("c1", "wamid.1", MessageRoleUser, "hi", "", ts, "text", []byte(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE clients").
		WithArgs("c1", ts).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	inserted, err := repo.AppendMessage(context.Background(), "c1", Message{
		ID: "wamid.1", Role: MessageRoleUser, Text: "hi", Type: "text", Timestamp: ts,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Error("expected insert")
	}
}

func TestPostgresAppendMessageDuplicate(t *testing.T) {
	mock := newPgMock(t)
	repo := NewPostgresRepository(mock)
	ts := time.Now().UTC()

	mock.ExpectExec("INSERT INTO client_messages").
		WithArgs("c1", "wamid.1", MessageRoleUser, "hi", "", ts, "text", []byte(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := repo.AppendMessage(context.Background(), "c1", Message{
		ID: "wamid.1", Role: MessageRoleUser, Text: "hi", Type: "text", Timestamp: ts,
	})
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("duplicate must not report an insert")
	}
}

func TestPostgresGetOrCreateByPhoneExisting(t *testing.T) {
	mock := newPgMock(t)
	repo := NewPostgresRepository(mock)

	contextJSON, _ := json.Marshal(conversation.NewContext())
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, phone, name, context, created_at, last_message_at").
		WithArgs("+919876543210").
		WillReturnRows(pgxmock.NewRows([]string{"id", "phone", "name", "context", "created_at", "last_message_at"}).
			AddRow("c1", "+919876543210", "Lead 3210", contextJSON, now, now))

	c, created, err := repo.GetOrCreateByPhone(context.Background(), "+919876543210")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("existing client must not report creation")
	}
	if c.ID != "c1" || c.Context.Stage != conversation.StageGreeting {
		t.Errorf("got %+v", c)
	}
}

func TestPostgresGetOrCreateByPhoneMatchesSyncedID(t *testing.T) {
	mock := newPgMock(t)
	repo := NewPostgresRepository(mock)

	contextJSON, _ := json.Marshal(conversation.NewContext())
	now := time.Now().UTC()

	// Dashboard-synced clients are keyed by the number itself; the lookup
	// matches them on id.
	mock.ExpectQuery("SELECT id, phone, name, context, created_at, last_message_at").
		WithArgs("919900001111").
		WillReturnRows(pgxmock.NewRows([]string{"id", "phone", "name", "context", "created_at", "last_message_at"}).
			AddRow("919900001111", "919900001111", "Lead 1111", contextJSON, now, now))

	c, created, err := repo.GetOrCreateByPhone(context.Background(), "919900001111")
	if err != nil {
		t.Fatal(err)
	}
	if created || c.ID != "919900001111" {
		t.Errorf("created=%v client=%+v", created, c)
	}
}

func TestPostgresGetOrCreateByPhoneCreates(t *testing.T) {
	mock := newPgMock(t)
	repo := NewPostgresRepository(mock)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, phone, name, context, created_at, last_message_at").
		WithArgs("+15550001234").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO clients").
		WithArgs(pgxmock.AnyArg(), "+15550001234", "Lead 1234", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "last_message_at"}).
			AddRow("c-new", now, now))

	c, created, err := repo.GetOrCreateByPhone(context.Background(), "+15550001234")
	if err != nil {
		t.Fatal(err)
	}
	if !created || c.ID != "c-new" || c.Name != "Lead 1234" {
		t.Errorf("created=%v client=%+v", created, c)
	}
}

func TestPostgresGetNotFound(t *testing.T) {
	mock := newPgMock(t)
	repo := NewPostgresRepository(mock)

	mock.ExpectQuery("SELECT id, phone, name, context, created_at, last_message_at").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), "ghost")
	if !errors.Is(err, ErrClientNotFound) {
		t.Errorf("err = %v, want ErrClientNotFound", err)
	}
}

func TestPostgresUpdateContextNotFound(t *testing.T) {
	mock := newPgMock(t)
	repo := NewPostgresRepository(mock)

	mock.ExpectExec("UPDATE clients SET context").
		WithArgs("ghost", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.UpdateContext(context.Background(), "ghost", conversation.NewContext())
	if !errors.Is(err, ErrClientNotFound) {
		t.Errorf("err = %v, want ErrClientNotFound", err)
	}
}

func TestPostgresSaveBatchEmptyNoop(t *testing.T) {
	mock := newPgMock(t)
	repo := NewPostgresRepository(mock)

	// No expectations: an empty batch must not touch the database.
	if err := repo.SaveBatch(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresSaveBatchUpserts(t *testing.T) {
	mock := newPgMock(t)
	repo := NewPostgresRepository(mock)
	now := time.Now().UTC()

	c := Client{
		ID: "c1", Phone: "+1000", Name: "Ravi",
		Context: conversation.NewContext(), CreatedAt: now, LastMessageAt: now,
		Messages: []Message{{ID: "m1", Role: MessageRoleUser, Text: "hi", Type: "text", Timestamp: now}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO clients").
		WithArgs("c1", "+1000", "Ravi", pgxmock.AnyArg(), now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO client_messages").
		WithArgs("c1", "m1", MessageRoleUser, "hi", "", now, "text", []byte(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	if err := repo.SaveBatch(context.Background(), []Client{c}); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresSaveBatchBackfillsPhoneFromID(t *testing.T) {
	mock := newPgMock(t)
	repo := NewPostgresRepository(mock)
	now := time.Now().UTC()

	// Dashboard payloads carry no phone field; the number-keyed id fills it.
	c := Client{
		ID: "919900001111", Name: "Lead 1111",
		Context: conversation.NewContext(), CreatedAt: now, LastMessageAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO clients").
		WithArgs("919900001111", "919900001111", "Lead 1111", pgxmock.AnyArg(), now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	if err := repo.SaveBatch(context.Background(), []Client{c}); err != nil {
		t.Fatal(err)
	}
}
