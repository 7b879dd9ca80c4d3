package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// BranchLocks serializes integration attempts per (repository, branch)
// key. The in-process mutex orders the bot's own workers; the file lock
// guards against a second bot process sharing the same work directory.
// Items targeting different branches proceed concurrently.
type BranchLocks struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewBranchLocks(dir string) *BranchLocks {
	return &BranchLocks{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}
}

func lockKey(repo, branch string) string {
	key := repo + ":" + branch
	return strings.NewReplacer("/", "-", ":", "-").Replace(key)
}

// Acquire blocks until both locks for the key are held and returns the
// release function. Release order is the reverse of acquisition.
func (b *BranchLocks) Acquire(ctx context.Context, repo, branch string) (func(), error) {
	key := lockKey(repo, branch)

	b.mu.Lock()
	m, ok := b.locks[key]
	if !ok {
		m = &sync.Mutex{}
		b.locks[key] = m
	}
	b.mu.Unlock()

	m.Lock()

	fl := flock.New(filepath.Join(b.dir, key+".lock"))
	locked, err := fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		m.Unlock()
		return nil, fmt.Errorf("failed to acquire branch lock for %s: %w", key, err)
	}
	if !locked {
		m.Unlock()
		return nil, fmt.Errorf("branch lock for %s is held elsewhere", key)
	}

	return func() {
		_ = fl.Unlock()
		m.Unlock()
	}, nil
}
