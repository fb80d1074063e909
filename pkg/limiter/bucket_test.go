package limiter

import (
	"math"
	"testing"
)

func TestRefillAndDebit(t *testing.T) {
	t.Run("DebitsWhenAvailable", func(t *testing.T) {
		tokens, last, granted := refillAndDebit(2, 100, 100, 5, 1)
		if !granted {
			t.Fatal("expected debit with 2 tokens available")
		}
		if tokens != 1 {
			t.Errorf("tokens = %v, want 1", tokens)
		}
		if last != 100 {
			t.Errorf("last refill = %v, want 100", last)
		}
	})

	t.Run("DeniesBelowOne", func(t *testing.T) {
		tokens, _, granted := refillAndDebit(0.9, 100, 100, 5, 1)
		if granted {
			t.Fatal("0.9 tokens must not cover a whole debit")
		}
		if tokens != 0.9 {
			t.Errorf("denied attempt changed the balance to %v", tokens)
		}
	})

	t.Run("RefillSaturatesAtMax", func(t *testing.T) {
		tokens, _, granted := refillAndDebit(0, 0, 1e6, 5, 10)
		if !granted {
			t.Fatal("saturated bucket should grant")
		}
		if tokens != 4 {
			t.Errorf("tokens = %v, want max 5 minus the debit", tokens)
		}
	})

	t.Run("FractionalRefill", func(t *testing.T) {
		// rps 4, 250ms elapsed: exactly one token back.
		tokens, _, granted := refillAndDebit(0, 100, 100.25, 1, 4)
		if !granted {
			t.Fatal("a full 1/r interval should buy one token")
		}
		if math.Abs(tokens) > 1e-9 {
			t.Errorf("tokens = %v, want 0", tokens)
		}
	})

	t.Run("BackwardClockClamps", func(t *testing.T) {
		tokens, last, granted := refillAndDebit(0, 100, 90, 5, 1)
		if granted {
			t.Fatal("a backward clock step must not mint tokens")
		}
		if tokens != 0 {
			t.Errorf("tokens = %v, want 0", tokens)
		}
		if last != 100 {
			t.Errorf("last refill = %v; the horizon must never move backward", last)
		}
	})

	t.Run("HorizonAdvancesOnDenial", func(t *testing.T) {
		_, last, granted := refillAndDebit(0, 100, 100.1, 5, 1)
		if granted {
			t.Fatal("0.1 tokens should deny")
		}
		if last != 100.1 {
			t.Errorf("last refill = %v, want 100.1; it advances whether or not the debit succeeds", last)
		}
	})
}
