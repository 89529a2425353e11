package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hivemail/hivemail/internal/account"
	"github.com/hivemail/hivemail/internal/config"
)

const testAccount = "0123456789abcdef01234567"

func TestMemStoreAdd(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	n, err := s.Add(ctx, testAccount, WindowSent, 3, time.Hour)
	if err != nil || n != 3 {
		t.Fatalf("Add = %d, %v", n, err)
	}
	n, err = s.Add(ctx, testAccount, WindowSent, 2, time.Hour)
	if err != nil || n != 5 {
		t.Fatalf("second Add = %d, %v", n, err)
	}

	counters, err := s.ReadBatch(ctx, testAccount, Windows)
	if err != nil {
		t.Fatal(err)
	}
	if counters[0].Used != 5 {
		t.Errorf("sent used = %d, want 5", counters[0].Used)
	}
	if counters[0].TTL < 0 || counters[0].TTL > 3600 {
		t.Errorf("sent ttl = %d, want 0..3600", counters[0].TTL)
	}
	// Untouched windows read as absent: zero used, no expiry.
	for i, c := range counters[1:] {
		if c.Used != 0 || c.TTL != -1 {
			t.Errorf("window %s = %+v, want {0 -1}", Windows[i+1], c)
		}
	}
}

func TestMemStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	if _, err := s.Add(ctx, testAccount, WindowReceived, 7, time.Minute); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)
	counters, err := s.ReadBatch(ctx, testAccount, []Window{WindowReceived})
	if err != nil {
		t.Fatal(err)
	}
	if counters[0].Used != 0 || counters[0].TTL != -1 {
		t.Errorf("expired counter = %+v, want {0 -1}", counters[0])
	}
}

func TestMemStoreLifetimeNotExtended(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	if _, err := s.Add(ctx, testAccount, WindowSent, 1, time.Minute); err != nil {
		t.Fatal(err)
	}
	now = now.Add(30 * time.Second)
	if _, err := s.Add(ctx, testAccount, WindowSent, 1, time.Hour); err != nil {
		t.Fatal(err)
	}

	counters, err := s.ReadBatch(ctx, testAccount, []Window{WindowSent})
	if err != nil {
		t.Fatal(err)
	}
	if counters[0].TTL > 30 {
		t.Errorf("ttl = %d, lifetime was extended by the second Add", counters[0].TTL)
	}
}

// failingStore always fails the batch read.
type failingStore struct{}

func (failingStore) ReadBatch(context.Context, string, []Window) ([]Counter, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Add(context.Context, string, Window, int64, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func testDefaults() config.Defaults {
	return config.Default().Defaults
}

func TestReaderMergesCounters(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	if _, err := store.Add(ctx, testAccount, WindowSent, 12, time.Hour); err != nil {
		t.Fatal(err)
	}

	r := Reader{Store: store, Defaults: testDefaults(), Log: zap.NewNop().Sugar()}
	a := &account.Account{ID: testAccount, Limits: account.Limits{Recipients: 500}}

	view := r.Limits(ctx, a)
	if view.Degraded {
		t.Fatal("healthy read marked degraded")
	}
	if view.Recipients.Allowed != 500 {
		t.Errorf("recipients allowed = %d, want the account's own 500", view.Recipients.Allowed)
	}
	if view.Recipients.Used != 12 {
		t.Errorf("recipients used = %d, want 12", view.Recipients.Used)
	}
	if !view.Recipients.TTL.HasExpiry {
		t.Error("recipients window lost its expiry")
	}
	if view.Forwards.Allowed != config.DefaultMaxForwards {
		t.Errorf("forwards allowed = %d, want platform default", view.Forwards.Allowed)
	}
	if view.Forwards.TTL.HasExpiry {
		t.Error("idle window reported an expiry")
	}
	if view.Quota.Allowed != config.DefaultMaxStorage {
		t.Errorf("quota allowed = %d, want platform default", view.Quota.Allowed)
	}
}

func TestReaderDegradesOnBatchFailure(t *testing.T) {
	r := Reader{Store: failingStore{}, Defaults: testDefaults(), Log: zap.NewNop().Sugar()}
	a := &account.Account{ID: testAccount, StorageUsed: 77}

	view := r.Limits(context.Background(), a)
	if !view.Degraded {
		t.Fatal("failed batch read not flagged as degraded")
	}
	// Windows zero out but the static side still resolves.
	if view.Recipients.Used != 0 || view.Recipients.TTL.HasExpiry {
		t.Errorf("recipients = %+v, want zeroed window without expiry", view.Recipients)
	}
	if view.Recipients.Allowed != config.DefaultMaxRecipients {
		t.Errorf("recipients allowed = %d, want platform default", view.Recipients.Allowed)
	}
	if view.Quota.Used != 77 {
		t.Errorf("quota used = %d, storage counter must not degrade", view.Quota.Used)
	}
}
