package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/zettel/internal/storage"
)

// recordingSyncer captures the calls the watcher makes.
type recordingSyncer struct {
	mu      sync.Mutex
	calls   []string
	resyncs int
}

func (r *recordingSyncer) Reindex(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "reindex:"+path)
	return nil
}

func (r *recordingSyncer) Forget(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "forget:"+path)
	return nil
}

func (r *recordingSyncer) Resync(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resyncs++
	return nil
}

func (r *recordingSyncer) saw(call string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (r *recordingSyncer) resyncCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resyncs
}

// startWatcher runs Watch on a fresh vault and returns the vault dir.
func startWatcher(t *testing.T, every time.Duration) (string, *recordingSyncer) {
	t.Helper()
	vaultDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(vaultDir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewFS(vaultDir, storage.WithIgnore(".*"))
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	rec := &recordingSyncer{}
	go func() {
		defer close(done)
		_ = Watch(ctx, rec, store, logger, every)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
	return vaultDir, rec
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestWatcher_NewFileReindexed(t *testing.T) {
	vaultDir, rec := startWatcher(t, 0)

	_ = os.WriteFile(filepath.Join(vaultDir, "new.md"), []byte("x"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.saw("reindex:new.md")
	}, "new file not forwarded to Reindex")
}

func TestWatcher_NewDirWatched(t *testing.T) {
	vaultDir, rec := startWatcher(t, 0)

	subDir := filepath.Join(vaultDir, "subdir")
	_ = os.MkdirAll(subDir, 0o755)

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		return rec.resyncCount() > 0
	}, "new dir did not trigger a resync")

	_ = os.WriteFile(filepath.Join(subDir, "deep.md"), []byte("x"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.saw("reindex:subdir/deep.md")
	}, "file in new subdir not forwarded to Reindex")
}

func TestWatcher_DeleteForgets(t *testing.T) {
	vaultDir, rec := startWatcher(t, 0)
	path := filepath.Join(vaultDir, "del.md")
	_ = os.WriteFile(path, []byte("x"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.saw("reindex:del.md")
	}, "precondition: file should be seen")

	_ = os.Remove(path)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.saw("forget:del.md")
	}, "deleted file not forwarded to Forget")
}

func TestWatcher_RenameResyncs(t *testing.T) {
	vaultDir, rec := startWatcher(t, 0)
	_ = os.WriteFile(filepath.Join(vaultDir, "old.md"), []byte("x"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.saw("reindex:old.md")
	}, "precondition: file should be seen")

	_ = os.Rename(filepath.Join(vaultDir, "old.md"), filepath.Join(vaultDir, "renamed.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.saw("forget:old.md") && rec.saw("reindex:renamed.md") && rec.resyncCount() > 0
	}, "rename should forget the old path, index the new one and resync")
}

func TestWatcher_IgnoredPathsSkipped(t *testing.T) {
	vaultDir, rec := startWatcher(t, 0)

	_ = os.WriteFile(filepath.Join(vaultDir, ".git", "hidden.md"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(vaultDir, ".draft.md"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(vaultDir, "seen.md"), []byte("x"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.saw("reindex:seen.md")
	}, "visible file not forwarded")
	if rec.saw("reindex:.git/hidden.md") || rec.saw("reindex:.draft.md") {
		t.Error("ignored paths were forwarded")
	}
}

func TestWatcher_PeriodicResync(t *testing.T) {
	_, rec := startWatcher(t, 50*time.Millisecond)

	eventually(t, 2*time.Second, 25*time.Millisecond, func() bool {
		return rec.resyncCount() >= 2
	}, "periodic resync did not fire")
}
