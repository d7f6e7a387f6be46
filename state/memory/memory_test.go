package memory

import (
	"context"
	"testing"
	"time"
)

func TestAcquireLeaseExcludesConcurrentHolder(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Connect(ctx)

	l1, err := s.AcquireLease(ctx, "slack:C1:1", time.Minute)
	if err != nil || l1 == nil {
		t.Fatalf("expected first acquire to succeed, got lease=%v err=%v", l1, err)
	}
	l2, err := s.AcquireLease(ctx, "slack:C1:1", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease returned error: %v", err)
	}
	if l2 != nil {
		t.Fatalf("expected second acquire to fail (nil), got %v", l2)
	}
}

func TestReleaseLeaseIsTokenSafe(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Connect(ctx)

	l1, _ := s.AcquireLease(ctx, "t1", time.Millisecond)
	time.Sleep(5 * time.Millisecond) // expire l1

	l2, err := s.AcquireLease(ctx, "t1", time.Minute)
	if err != nil || l2 == nil {
		t.Fatalf("expected reacquire after expiry to succeed, got %v, %v", l2, err)
	}

	// Stale holder releasing should not clobber the fresh lease.
	if err := s.ReleaseLease(ctx, l1); err != nil {
		t.Fatalf("ReleaseLease: %v", err)
	}
	l3, err := s.AcquireLease(ctx, "t1", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	if l3 != nil {
		t.Fatalf("stale release must not have freed the fresh lease, got %v", l3)
	}
}

func TestExtendLeaseRejectsStaleToken(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Connect(ctx)

	l1, _ := s.AcquireLease(ctx, "t1", time.Minute)
	stale := &l1
	_ = stale

	fake := *l1
	fake.Token = "not-the-real-token"
	ok, err := s.ExtendLease(ctx, &fake, time.Minute)
	if err != nil {
		t.Fatalf("ExtendLease: %v", err)
	}
	if ok {
		t.Fatal("expected ExtendLease to reject stale token")
	}
}

func TestKVRoundTripAndTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Set(ctx, "k", map[string]string{"a": "b"}, time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var out map[string]string
	found, err := s.Get(ctx, "k", &out)
	if err != nil || !found || out["a"] != "b" {
		t.Fatalf("expected round-trip before expiry, got found=%v out=%v err=%v", found, out, err)
	}

	time.Sleep(5 * time.Millisecond)
	found, err = s.Get(ctx, "k", &out)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("expected key to have expired")
	}
}

func TestSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := New()

	_ = s.Subscribe(ctx, "slack:C1:1")
	_ = s.Subscribe(ctx, "discord:c2:2")

	ok, _ := s.IsSubscribed(ctx, "slack:C1:1")
	if !ok {
		t.Fatal("expected subscription to be present")
	}

	slackOnly, _ := s.ListSubscriptions(ctx, "slack")
	if len(slackOnly) != 1 || slackOnly[0] != "slack:C1:1" {
		t.Errorf("ListSubscriptions(slack) = %v", slackOnly)
	}

	_ = s.Unsubscribe(ctx, "slack:C1:1")
	ok, _ = s.IsSubscribed(ctx, "slack:C1:1")
	if ok {
		t.Fatal("expected subscription to be removed")
	}
}
