package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu      sync.Mutex
	batches [][]string
	notify  chan struct{}
}

func newRecorder() *recorder { return &recorder{notify: make(chan struct{}, 16)} }

func (r *recorder) handle(_ context.Context, changed []string) {
	r.mu.Lock()
	r.batches = append(r.batches, changed)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}
}

func (r *recorder) all() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...)
}

func TestWatcherDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	steering := filepath.Join(dir, "steer.yaml")
	compact := filepath.Join(dir, "toy.xml")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{steering, compact, other} {
		require.NoError(t, os.WriteFile(p, []byte("0"), 0o644))
	}

	rec := newRecorder()
	w, err := New(rec.handle, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.SetFiles(steering, compact))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(steering, []byte{byte('a' + i)}, 0o644))
	}
	require.NoError(t, os.WriteFile(compact, []byte("<lccdd/>"), 0o644))
	require.NoError(t, os.WriteFile(other, []byte("ignored"), 0o644))

	rec.wait(t)
	// both files may settle in one tick or in two
	deadline := time.Now().Add(2 * time.Second)
	var seen map[string]bool
	for time.Now().Before(deadline) {
		seen = map[string]bool{}
		for _, b := range rec.all() {
			for _, p := range b {
				seen[p] = true
			}
		}
		if len(seen) == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, map[string]bool{steering: true, compact: true}, seen)
	assert.LessOrEqual(t, len(rec.all()), 2, "rapid writes are coalesced")
	assert.GreaterOrEqual(t, w.Stats().Events, 2)
}

func TestWatcherSetFilesReplaces(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "sub", "b.xml")
	require.NoError(t, os.MkdirAll(filepath.Dir(b), 0o755))

	w, err := New(func(context.Context, []string) {})
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, w.SetFiles(a))
	require.NoError(t, w.SetFiles(b, "", b))
	assert.Equal(t, []string{b}, w.Files())

	assert.Error(t, w.SetFiles(filepath.Join(dir, "missing", "c.xml")), "parent directory must exist")
}

func TestWatcherStopsOnContext(t *testing.T) {
	w, err := New(func(context.Context, []string) {})
	require.NoError(t, err)
	require.NoError(t, w.SetFiles(filepath.Join(t.TempDir(), "x.yaml")))

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()
	w.Stop()
	w.Stop()
}
