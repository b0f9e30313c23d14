package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/lvdashuaibi/revealcast/internal/cachestore"
)

func TestAdmitOncePerWindow(t *testing.T) {
	store := cachestore.NewFakeStore(nil)
	limiter := New(store, time.Second)
	ctx := context.Background()

	ok, err := limiter.Admit(ctx, "voter-1")
	if err != nil || !ok {
		t.Fatalf("first admit: got (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = limiter.Admit(ctx, "voter-1")
	if err != nil || ok {
		t.Fatalf("second admit within window: got (%v, %v), want (false, nil)", ok, err)
	}
}

func TestAdmitIsPerVoter(t *testing.T) {
	store := cachestore.NewFakeStore(nil)
	limiter := New(store, time.Second)
	ctx := context.Background()

	if ok, err := limiter.Admit(ctx, "voter-1"); err != nil || !ok {
		t.Fatalf("voter-1 admit: got (%v, %v), want (true, nil)", ok, err)
	}
	if ok, err := limiter.Admit(ctx, "voter-2"); err != nil || !ok {
		t.Fatalf("voter-2 admit: got (%v, %v), want (true, nil)", ok, err)
	}
}

func TestNewDefaultsZeroWindow(t *testing.T) {
	store := cachestore.NewFakeStore(nil)
	limiter := New(store, 0)
	if limiter.window != time.Second {
		t.Fatalf("window = %v, want 1s default", limiter.window)
	}
}
