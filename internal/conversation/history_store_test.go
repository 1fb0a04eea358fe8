package conversation

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestHistoryStoreRoundtrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewHistoryStore(client, nil)
	ctx := context.Background()

	age := 31.0
	state := SessionState{
		Version: 3,
		History: []ChatMessage{
			{Role: ChatRoleUser, Content: "hi"},
			{Role: ChatRoleModel, Content: `{"reply":"hey"}`},
		},
		Context: Context{Age: &age, Stage: StageCollectingData},
	}

	if err := store.Save(ctx, "c1", state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx, "c1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("expected stored state")
	}
	if got.Version != 3 || len(got.History) != 2 {
		t.Errorf("got version %d with %d messages", got.Version, len(got.History))
	}
	if got.Context.Age == nil || *got.Context.Age != 31 {
		t.Errorf("Age = %v", got.Context.Age)
	}

	if mr.TTL(sessionKey("c1")) != sessionTTL {
		t.Errorf("TTL = %v, want %v", mr.TTL(sessionKey("c1")), sessionTTL)
	}
}

func TestHistoryStoreLoadMissing(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewHistoryStore(client, nil)

	got, err := store.Load(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil for missing key", got)
	}
}

func TestHistoryStoreDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewHistoryStore(client, nil)
	ctx := context.Background()

	if err := store.Save(ctx, "c1", SessionState{Version: 1}); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("state survived delete")
	}
}
