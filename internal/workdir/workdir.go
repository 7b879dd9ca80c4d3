package workdir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Manager owns the bot's scratch area: one bare materialization per
// managed repository, reused across cycles. Nothing here is durable
// state; the whole tree can be deleted between runs.
type Manager struct {
	fs   afero.Fs
	root string
	log  *zap.Logger
}

func NewManager(fs afero.Fs, root string, log *zap.Logger) (*Manager, error) {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory %s: %w", root, err)
	}
	return &Manager{fs: fs, root: root, log: log}, nil
}

// Root returns the work directory path.
func (m *Manager) Root() string {
	return m.root
}

// Materialize ensures a bare clone of url exists under the work
// directory and returns its path. An existing materialization is
// reused; refreshing its refs is the caller's job via explicit fetches.
func (m *Manager) Materialize(ctx context.Context, url, name string) (string, error) {
	dir := filepath.Join(m.root, sanitizeName(name)+".git")
	ok, err := afero.DirExists(m.fs, dir)
	if err != nil {
		return "", err
	}
	if ok {
		return dir, nil
	}
	m.log.Info("materializing repository", zap.String("url", url), zap.String("dir", dir))
	if _, err := git.PlainCloneContext(ctx, dir, true, &git.CloneOptions{URL: url}); err != nil {
		// Leave no partial clone behind; it would be mistaken for a
		// valid materialization on the next attempt.
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("failed to clone %s: %w", url, err)
	}
	return dir, nil
}

func sanitizeName(name string) string {
	return strings.NewReplacer("/", "-", ":", "-").Replace(name)
}
