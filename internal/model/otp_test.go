package model

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func issuedRecord(now time.Time) *OTPRecord {
	r := &OTPRecord{Phone: "9876543210"}
	r.ApplyIssue("hash-1", now, 5*time.Minute)
	return r
}

func TestApplyIssueResetsState(t *testing.T) {
	r := issuedRecord(t0)
	r.Attempts = 2
	r.Verified = true

	r.ApplyIssue("hash-2", t0.Add(time.Minute), 5*time.Minute)

	if r.OTPHash != "hash-2" {
		t.Errorf("OTPHash = %q, want hash-2", r.OTPHash)
	}
	if r.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", r.Attempts)
	}
	if r.Verified {
		t.Error("Verified not reset on re-issue")
	}
	if got, want := r.ExpiresAt, t0.Add(time.Minute+5*time.Minute); !got.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", got, want)
	}
	if len(r.RequestTimes) != 2 {
		t.Errorf("RequestTimes = %d entries, want 2", len(r.RequestTimes))
	}
}

func TestPruneRequestsWindow(t *testing.T) {
	r := &OTPRecord{Phone: "9876543210"}
	r.ApplyIssue("h1", t0, 5*time.Minute)
	r.ApplyIssue("h2", t0.Add(10*time.Minute), 5*time.Minute)
	r.ApplyIssue("h3", t0.Add(40*time.Minute), 5*time.Minute)

	// Only entries strictly newer than now-window survive: the issuance
	// sitting exactly on the boundary is gone too.
	now := t0.Add(40 * time.Minute)
	r.PruneRequests(now, 30*time.Minute)

	if len(r.RequestTimes) != 1 {
		t.Fatalf("after prune RequestTimes = %d entries, want 1", len(r.RequestTimes))
	}
	if !r.RequestTimes[0].Equal(now) {
		t.Errorf("retained = %v, want %v", r.RequestTimes[0], now)
	}
}

func TestCanIssueLimit(t *testing.T) {
	r := &OTPRecord{Phone: "9876543210"}
	for i := 0; i < 3; i++ {
		if !r.CanIssue(3) {
			t.Fatalf("issue %d rejected under the cap", i+1)
		}
		r.ApplyIssue("h", t0.Add(time.Duration(i)*time.Minute), 5*time.Minute)
	}
	if r.CanIssue(3) {
		t.Error("fourth issue admitted inside the window")
	}

	// Window rollover frees a slot.
	now := t0.Add(31 * time.Minute)
	r.PruneRequests(now, 30*time.Minute)
	if !r.CanIssue(3) {
		t.Error("issue rejected after the oldest request left the window")
	}
}

func TestApplyVerify(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(*OTPRecord)
		submitted     string
		at            time.Time
		wantOutcome   VerifyOutcome
		wantRemaining int
	}{
		{
			name:        "correct code",
			submitted:   "hash-1",
			at:          t0.Add(time.Minute),
			wantOutcome: VerifyMatch,
		},
		{
			name:          "first mismatch leaves two attempts",
			submitted:     "wrong",
			at:            t0.Add(time.Minute),
			wantOutcome:   VerifyMismatch,
			wantRemaining: 2,
		},
		{
			name:        "expired code",
			submitted:   "hash-1",
			at:          t0.Add(6 * time.Minute),
			wantOutcome: VerifyExpired,
		},
		{
			name:        "code accepted at the expiry instant",
			submitted:   "hash-1",
			at:          t0.Add(5 * time.Minute),
			wantOutcome: VerifyMatch,
		},
		{
			name:        "third mismatch exhausts",
			setup:       func(r *OTPRecord) { r.Attempts = 2 },
			submitted:   "wrong",
			at:          t0.Add(time.Minute),
			wantOutcome: VerifyExhausted,
		},
		{
			name:        "exhausted record rejects even the right code",
			setup:       func(r *OTPRecord) { r.Attempts = 3 },
			submitted:   "hash-1",
			at:          t0.Add(time.Minute),
			wantOutcome: VerifyExhausted,
		},
		{
			name:        "exhaustion reported before expiry",
			setup:       func(r *OTPRecord) { r.Attempts = 3 },
			submitted:   "hash-1",
			at:          t0.Add(10 * time.Minute),
			wantOutcome: VerifyExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := issuedRecord(t0)
			if tt.setup != nil {
				tt.setup(r)
			}

			outcome, remaining := r.ApplyVerify(tt.submitted, tt.at, 3)
			if outcome != tt.wantOutcome {
				t.Errorf("outcome = %v, want %v", outcome, tt.wantOutcome)
			}
			if remaining != tt.wantRemaining {
				t.Errorf("remaining = %d, want %d", remaining, tt.wantRemaining)
			}
		})
	}
}

func TestVerifyMatchResetsAttempts(t *testing.T) {
	r := issuedRecord(t0)

	if outcome, remaining := r.ApplyVerify("nope", t0.Add(time.Second), 3); outcome != VerifyMismatch || remaining != 2 {
		t.Fatalf("first mismatch: outcome %v remaining %d", outcome, remaining)
	}
	if outcome, remaining := r.ApplyVerify("nope", t0.Add(2*time.Second), 3); outcome != VerifyMismatch || remaining != 1 {
		t.Fatalf("second mismatch: outcome %v remaining %d", outcome, remaining)
	}
	if outcome, _ := r.ApplyVerify("hash-1", t0.Add(3*time.Second), 3); outcome != VerifyMatch {
		t.Fatalf("match after mismatches: outcome %v", outcome)
	}
	if r.Attempts != 0 {
		t.Errorf("Attempts = %d after match, want 0", r.Attempts)
	}
	if !r.Verified {
		t.Error("record not verified after match")
	}
}

func TestMismatchAfterVerifyClearsFlag(t *testing.T) {
	r := issuedRecord(t0)
	r.ApplyVerify("hash-1", t0.Add(time.Second), 3)

	r.ApplyVerify("wrong", t0.Add(2*time.Second), 3)
	if r.Verified {
		t.Error("mismatch left the verified flag set")
	}
}
