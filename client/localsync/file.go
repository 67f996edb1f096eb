package localsync

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vmihailenco/msgpack/v5"
)

// clearDelay is how long a published commit stays in the shared file
// before the writer clears it. Long enough for other watchers to read it,
// short enough that the record is effectively transient.
const clearDelay = 100 * time.Millisecond

// FileTransport is the fallback transport: a shared file plus a change
// watcher. Publishing writes the commit and then clears the entry; the
// change notification is acted on only in *other* sessions, never the
// writer's own, which the transport enforces by origin. Stale or empty
// reads are ignored.
type FileTransport struct {
	path    string
	origin  string
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	handler func(Commit)
	done    chan struct{}
	once    sync.Once
}

var _ LocalTransport = (*FileTransport)(nil)

// NewFileTransport starts watching the shared file's directory.
func NewFileTransport(path, origin string) (*FileTransport, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sync directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	t := &FileTransport{
		path:    path,
		origin:  origin,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	go t.watch()
	return t, nil
}

// Publish writes the commit to the shared file and schedules the clear.
func (t *FileTransport) Publish(c Commit) error {
	data, err := msgpack.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode commit: %w", err)
	}
	if err := os.WriteFile(t.path, data, 0o644); err != nil {
		return fmt.Errorf("write commit: %w", err)
	}
	time.AfterFunc(clearDelay, func() {
		// Best effort; an overwrite by a newer commit is just as good.
		_ = os.Truncate(t.path, 0)
	})
	return nil
}

// Subscribe sets the inbound handler.
func (t *FileTransport) Subscribe(fn func(Commit)) func() {
	t.mu.Lock()
	t.handler = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		t.handler = nil
		t.mu.Unlock()
	}
}

// Close stops the watcher.
func (t *FileTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return t.watcher.Close()
}

func (t *FileTransport) watch() {
	for {
		select {
		case <-t.done:
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if event.Name != t.path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			t.consume()
		case _, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (t *FileTransport) consume() {
	data, err := os.ReadFile(t.path)
	if err != nil || len(data) == 0 {
		return
	}
	var c Commit
	if err := msgpack.Unmarshal(data, &c); err != nil {
		return
	}
	// The writer's own notification fires too; suppress it here so the
	// delivery contract matches the broadcast transport.
	if c.Origin == t.origin {
		return
	}
	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()
	if handler != nil {
		handler(c)
	}
}
