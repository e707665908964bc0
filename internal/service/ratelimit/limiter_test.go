package ratelimit

import "testing"

func TestAllowBurstThenDeny(t *testing.T) {
	l := New(0.001, 2)
	if !l.Allow("a") || !l.Allow("a") {
		t.Fatalf("expected burst of 2 to pass")
	}
	if l.Allow("a") {
		t.Fatalf("expected third call to be limited")
	}
	if !l.Allow("b") {
		t.Fatalf("keys must not share a bucket")
	}
	l.Forget("a")
	if !l.Allow("a") {
		t.Fatalf("expected fresh bucket after Forget")
	}
}

func TestDisabled(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 100; i++ {
		if !l.Allow("a") {
			t.Fatalf("disabled limiter must allow everything")
		}
	}
}
