package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/core"
)

type failingKV struct {
	err error
}

func (f failingKV) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failingKV) Set(context.Context, string, []byte) error   { return f.err }
func (f failingKV) Close() error                                { return nil }

func TestHistoryStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	hs := NewHistoryStore(NewMemory(), "")

	history := []core.Message{
		{ID: "1", Text: "first", Sender: core.SenderLocal, Author: "You", Timestamp: time.Unix(1700000000, 0).UTC()},
		{ID: "2", Text: "second", Sender: core.SenderRemote, Author: "Server", Timestamp: time.Unix(1700000001, 0).UTC()},
	}
	if err := hs.Save(ctx, history); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := hs.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "2" {
		t.Fatalf("unexpected history: %+v", got)
	}
	if !got[1].Timestamp.Equal(history[1].Timestamp) || got[1].Sender != core.SenderRemote {
		t.Fatalf("fields not preserved: %+v", got[1])
	}

	// Save overwrites the whole history.
	if err := hs.Save(ctx, history[:1]); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, _ = hs.Load(ctx)
	if len(got) != 1 {
		t.Fatalf("expected overwrite semantics, got %d messages", len(got))
	}
}

func TestHistoryStoreLoadMissing(t *testing.T) {
	got, err := NewHistoryStore(NewMemory(), "").Load(context.Background())
	if err != nil {
		t.Fatalf("missing key should not fail: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil history, got %#v", got)
	}
}

func TestHistoryStoreLoadCorrupt(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	_ = kv.Set(ctx, DefaultHistoryKey, []byte("{not json"))

	got, err := NewHistoryStore(kv, "").Load(ctx)
	if !errors.Is(err, core.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty history, got %#v", got)
	}
}

func TestHistoryStoreBackendFailure(t *testing.T) {
	ctx := context.Background()
	hs := NewHistoryStore(failingKV{err: errors.New("disk gone")}, "")

	if _, err := hs.Load(ctx); !errors.Is(err, core.ErrStoreUnavailable) {
		t.Fatalf("load: expected store unavailable, got %v", err)
	}
	if err := hs.Save(ctx, nil); !errors.Is(err, core.ErrStoreUnavailable) {
		t.Fatalf("save: expected store unavailable, got %v", err)
	}
}
