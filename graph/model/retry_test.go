package model

import (
	"errors"
	"math/rand"
	"testing"
	"time"
)

func TestRetryPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{"default", DefaultRetryPolicy(), false},
		{"single attempt", RetryPolicy{MaxAttempts: 1}, false},
		{"zero attempts", RetryPolicy{MaxAttempts: 0}, true},
		{"max below base", RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Millisecond}, true},
		{"uncapped", RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}, false},
		{"negative delay", RetryPolicy{MaxAttempts: 3, BaseDelay: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRetryPolicy) {
				t.Errorf("expected ErrInvalidRetryPolicy, got %v", err)
			}
		})
	}
}

func TestComputeBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	maxDelay := time.Second
	rng := rand.New(rand.NewSource(42))

	for attempt := 0; attempt < 8; attempt++ {
		delay := computeBackoff(attempt, base, maxDelay, rng)

		exp := base * (1 << attempt)
		if exp > maxDelay {
			exp = maxDelay
		}
		if delay < exp || delay >= exp+base {
			t.Errorf("attempt %d: delay %v outside [%v, %v)", attempt, delay, exp, exp+base)
		}
	}

	if d := computeBackoff(3, 0, time.Second, rng); d != 0 {
		t.Errorf("zero base should not wait, got %v", d)
	}
}

func TestComputeBackoff_Deterministic(t *testing.T) {
	a := computeBackoff(2, time.Second, time.Minute, rand.New(rand.NewSource(7)))
	b := computeBackoff(2, time.Second, time.Minute, rand.New(rand.NewSource(7)))
	if a != b {
		t.Errorf("same seed produced %v and %v", a, b)
	}
}
