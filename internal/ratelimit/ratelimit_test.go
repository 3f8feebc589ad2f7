package ratelimit_test

import (
	"testing"
	"time"

	"github.com/dropmesh/relay-hub/internal/ratelimit"
)

func TestAllow(t *testing.T) {
	rl := ratelimit.New(2, time.Minute)

	if !rl.Allow("peer-1") {
		t.Fatalf("first attempt should be allowed")
	}
	if !rl.Allow("peer-1") {
		t.Fatalf("second attempt should be allowed")
	}
	if rl.Allow("peer-1") {
		t.Fatalf("third attempt should be rate-limited")
	}

	// A different key has its own bucket.
	if !rl.Allow("peer-2") {
		t.Fatalf("unrelated key should be unaffected")
	}
}

func TestAllowDisabled(t *testing.T) {
	rl := ratelimit.New(0, time.Minute)
	for i := 0; i < 10; i++ {
		if !rl.Allow("peer-1") {
			t.Fatalf("disabled limiter should always allow")
		}
	}
}

func TestAllowWindowResets(t *testing.T) {
	rl := ratelimit.New(1, 20*time.Millisecond)
	if !rl.Allow("peer-1") {
		t.Fatalf("first attempt should be allowed")
	}
	if rl.Allow("peer-1") {
		t.Fatalf("second attempt within window should be limited")
	}
	time.Sleep(30 * time.Millisecond)
	if !rl.Allow("peer-1") {
		t.Fatalf("attempt after window reset should be allowed")
	}
}

func TestForget(t *testing.T) {
	rl := ratelimit.New(1, time.Minute)
	rl.Allow("peer-1")
	if rl.Allow("peer-1") {
		t.Fatalf("second attempt should be limited before Forget")
	}
	rl.Forget("peer-1")
	if !rl.Allow("peer-1") {
		t.Fatalf("attempt after Forget should be allowed")
	}
}
