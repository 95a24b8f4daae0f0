package usecase

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"agentindex/internal/domain"
)

// JobGuard gives each batch job type single-flight semantics across
// processes via advisory file locks. A held lock means another run is in
// progress; callers skip rather than queue.
type JobGuard struct {
	dir string
}

// NewJobGuard creates a JobGuard. An empty dir falls back to the system
// temp directory.
func NewJobGuard(dir string) *JobGuard {
	if dir == "" {
		dir = os.TempDir()
	}
	return &JobGuard{dir: dir}
}

// Acquire takes the lock for job and returns its release func.
// ErrJobRunning when another holder exists.
func (g *JobGuard) Acquire(job string) (func(), error) {
	lock := flock.New(filepath.Join(g.dir, "agentindex-"+job+".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrJobRunning, job, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobRunning, job)
	}
	return func() { _ = lock.Unlock() }, nil
}
