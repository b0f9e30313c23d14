package cachestore

import (
	"context"
	"testing"
	"time"
)

func TestFakeStoreSAddDedup(t *testing.T) {
	f := NewFakeStore(nil)
	ctx := context.Background()

	added, err := f.SAdd(ctx, "voters:s1", "voter-a")
	if err != nil || !added {
		t.Fatalf("first add: got (%v, %v), want (true, nil)", added, err)
	}
	added, err = f.SAdd(ctx, "voters:s1", "voter-a")
	if err != nil || added {
		t.Fatalf("second add: got (%v, %v), want (false, nil)", added, err)
	}
}

func TestFakeStoreGetDelIsTestAndClear(t *testing.T) {
	f := NewFakeStore(nil)
	ctx := context.Background()

	if err := f.SetTTL(ctx, "dirty:s1", "1", time.Minute); err != nil {
		t.Fatalf("set ttl: %v", err)
	}

	_, ok, err := f.GetDel(ctx, "dirty:s1")
	if err != nil || !ok {
		t.Fatalf("first getdel: got (%v, %v), want (true, nil)", ok, err)
	}
	_, ok, err = f.GetDel(ctx, "dirty:s1")
	if err != nil || ok {
		t.Fatalf("second getdel: got (%v, %v), want (false, nil)", ok, err)
	}
}

func TestFakeStoreExpiryIsLazy(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	f := NewFakeStore(func() time.Time { return clock() })
	ctx := context.Background()

	if err := f.SetTTL(ctx, "dirty:s1", "1", time.Second); err != nil {
		t.Fatalf("set ttl: %v", err)
	}
	now = now.Add(2 * time.Second)

	exists, err := f.Exists(ctx, "dirty:s1")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("expected key to have expired")
	}
}

func TestFakeStoreListTrim(t *testing.T) {
	f := NewFakeStore(nil)
	ctx := context.Background()

	for _, v := range []string{"c", "b", "a"} {
		if err := f.LPush(ctx, "chat:s1", v); err != nil {
			t.Fatalf("lpush: %v", err)
		}
	}
	if err := f.LTrim(ctx, "chat:s1", 0, 1); err != nil {
		t.Fatalf("ltrim: %v", err)
	}
	got, err := f.LRange(ctx, "chat:s1", 0, -1)
	if err != nil {
		t.Fatalf("lrange: %v", err)
	}
	want := []string{"a", "b"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFakeStoreCallCounter(t *testing.T) {
	f := NewFakeStore(nil)
	ctx := context.Background()

	if _, err := f.SetNX(ctx, "ratelimit:v1", "1", time.Second); err != nil {
		t.Fatalf("setnx: %v", err)
	}
	if f.Calls["SetNX"] != 1 {
		t.Fatalf("SetNX calls = %d, want 1", f.Calls["SetNX"])
	}
	if f.Calls["HGetAll"] != 0 {
		t.Fatalf("HGetAll calls = %d, want 0", f.Calls["HGetAll"])
	}
}
