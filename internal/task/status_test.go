package task

import (
	"errors"
	"strings"
	"testing"
)

// allStatuses enumerates every known status for matrix tests.
var allStatuses = []Status{
	StatusReceived,
	StatusAnalyzing,
	StatusNeedsClarification,
	StatusDispatched,
	StatusCoding,
	StatusPROpen,
	StatusMerged,
	StatusFailed,
}

// TestTransitionMatrix pins the full set of legal edges. Everything not
// listed here must be rejected.
func TestTransitionMatrix(t *testing.T) {
	legal := map[Status][]Status{
		StatusReceived:           {StatusAnalyzing, StatusFailed},
		StatusAnalyzing:          {StatusNeedsClarification, StatusDispatched, StatusFailed},
		StatusNeedsClarification: {StatusDispatched, StatusFailed},
		StatusDispatched:         {StatusCoding, StatusFailed},
		StatusCoding:             {StatusPROpen, StatusFailed},
		StatusPROpen:             {StatusMerged, StatusFailed},
		StatusMerged:             {},
		StatusFailed:             {StatusReceived},
	}

	for _, from := range allStatuses {
		allowed := make(map[Status]bool)
		for _, to := range legal[from] {
			allowed[to] = true
		}
		for _, to := range allStatuses {
			got := from.CanTransition(to)
			if got != allowed[to] {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, allowed[to])
			}
		}
	}
}

func TestMergedIsTerminal(t *testing.T) {
	if !StatusMerged.IsTerminal() {
		t.Error("merged should be terminal")
	}
	for _, s := range allStatuses {
		if s == StatusMerged {
			continue
		}
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestFailedOnlyRestartsToReceived(t *testing.T) {
	for _, to := range allStatuses {
		want := to == StatusReceived
		if got := StatusFailed.CanTransition(to); got != want {
			t.Errorf("failed -> %s = %v, want %v", to, got, want)
		}
	}
}

func TestIsValid(t *testing.T) {
	for _, s := range allStatuses {
		if !s.IsValid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("bogus").IsValid() {
		t.Error("unknown status should not be valid")
	}
	if Status("bogus").IsTerminal() {
		t.Error("unknown status should not be terminal")
	}
}

func TestValidateTransition(t *testing.T) {
	if err := ValidateTransition(StatusReceived, StatusAnalyzing); err != nil {
		t.Fatalf("legal transition rejected: %v", err)
	}

	err := ValidateTransition(StatusMerged, StatusReceived)
	if err == nil {
		t.Fatal("expected error for merged -> received")
	}

	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *InvalidTransitionError, got %T", err)
	}
	if invalid.From != StatusMerged || invalid.To != StatusReceived {
		t.Errorf("error fields = %s -> %s, want merged -> received", invalid.From, invalid.To)
	}
	if !strings.Contains(err.Error(), "invalid transition") {
		t.Errorf("unexpected error message: %v", err)
	}
}
