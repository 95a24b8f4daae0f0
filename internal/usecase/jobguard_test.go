package usecase

import (
	"errors"
	"testing"

	"agentindex/internal/domain"
)

func TestJobGuardExclusive(t *testing.T) {
	guard := NewJobGuard(t.TempDir())

	release, err := guard.Acquire("rank")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := guard.Acquire("rank"); !errors.Is(err, domain.ErrJobRunning) {
		t.Errorf("second Acquire err = %v, want ErrJobRunning", err)
	}

	release()

	release2, err := guard.Acquire("rank")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	release2()
}

func TestJobGuardIndependentJobs(t *testing.T) {
	guard := NewJobGuard(t.TempDir())

	releaseRank, err := guard.Acquire("rank")
	if err != nil {
		t.Fatalf("Acquire rank: %v", err)
	}
	defer releaseRank()

	releaseDedupe, err := guard.Acquire("dedupe")
	if err != nil {
		t.Fatalf("Acquire dedupe: %v", err)
	}
	defer releaseDedupe()
}
