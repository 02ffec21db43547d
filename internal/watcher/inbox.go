// Package watcher previews roster files dropped into an inbox directory.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sydlexius/rosterimport/internal/roster"
)

// Subdirectories of the inbox that receive handled files.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// Previewer turns an upload into a pending import job.
type Previewer interface {
	Preview(ctx context.Context, data []byte, opts roster.PreviewOptions) (*roster.ImportPreview, error)
}

// Inbox watches a directory for roster files. Each file is previewed once
// it has been quiet for the debounce interval, then moved to processed/
// with the job ID prefixed to its name, or to failed/ when it could not
// be previewed. Reviewers execute the resulting job through the API.
type Inbox struct {
	dir       string
	previewer Previewer
	logger    *slog.Logger
	debounce  time.Duration
	rescan    time.Duration

	mu      sync.Mutex
	pending map[string]time.Time // path -> last change
}

// NewInbox creates an inbox watcher for dir.
func NewInbox(dir string, previewer Previewer, debounce time.Duration, logger *slog.Logger) *Inbox {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Inbox{
		dir:       dir,
		previewer: previewer,
		logger:    logger.With(slog.String("component", "inbox-watcher")),
		debounce:  debounce,
		rescan:    time.Minute,
		pending:   make(map[string]time.Time),
	}
}

// Start blocks until ctx is canceled. Files already in the inbox are
// picked up immediately. If fsnotify is unavailable the directory is
// only rescanned periodically.
func (in *Inbox) Start(ctx context.Context) error {
	for _, sub := range []string{"", ProcessedDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(in.dir, sub), 0o750); err != nil {
			return fmt.Errorf("creating inbox directory: %w", err)
		}
	}

	var eventCh <-chan fsnotify.Event
	var errCh <-chan error
	w, err := fsnotify.NewWatcher()
	if err == nil {
		err = w.Add(in.dir)
	}
	if err != nil {
		in.logger.Warn("fsnotify unavailable, polling inbox", "error", err)
	} else {
		defer w.Close() //nolint:errcheck
		eventCh, errCh = w.Events, w.Errors
	}

	in.scan()
	in.logger.Info("inbox watcher started", slog.String("dir", in.dir))

	tick := time.NewTicker(max(in.debounce/2, time.Millisecond))
	defer tick.Stop()
	rescan := time.NewTicker(in.rescan)
	defer rescan.Stop()

	for {
		select {
		case <-ctx.Done():
			in.logger.Info("inbox watcher stopped")
			return nil

		case ev, ok := <-eventCh:
			if !ok {
				eventCh = nil
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				in.touch(ev.Name)
			}

		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			in.logger.Error("fsnotify error", "error", err)

		case <-rescan.C:
			in.scan()

		case now := <-tick.C:
			for _, path := range in.due(now) {
				in.process(ctx, path)
			}
		}
	}
}

// scan queues every roster file currently in the inbox.
func (in *Inbox) scan() {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		in.logger.Error("reading inbox", "error", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			in.touch(filepath.Join(in.dir, e.Name()))
		}
	}
}

// touch records a change to path if it is a roster file directly inside
// the inbox.
func (in *Inbox) touch(path string) {
	if filepath.Dir(path) != filepath.Clean(in.dir) || !accepts(filepath.Base(path)) {
		return
	}
	in.mu.Lock()
	in.pending[path] = time.Now()
	in.mu.Unlock()
}

// due removes and returns the paths that have been quiet for the debounce
// interval.
func (in *Inbox) due(now time.Time) []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	var out []string
	for path, changed := range in.pending {
		if now.Sub(changed) >= in.debounce {
			out = append(out, path)
			delete(in.pending, path)
		}
	}
	return out
}

func (in *Inbox) process(ctx context.Context, path string) {
	name := filepath.Base(path)
	data, err := os.ReadFile(path) //nolint:gosec // path is inside the configured inbox
	if err != nil {
		if !os.IsNotExist(err) {
			in.logger.Error("reading inbox file", "file", name, "error", err)
		}
		return
	}

	preview, err := in.previewer.Preview(ctx, data, roster.PreviewOptions{
		Format: roster.FormatFromFilename(name),
		Source: name,
	})
	switch {
	case err == nil:
	case rejected(err):
		in.logger.Warn("inbox file rejected", "file", name, "error", err)
		in.move(path, filepath.Join(in.dir, FailedDir, name))
		return
	case ctx.Err() != nil:
		// Shutting down; the file stays in the inbox for the next start.
		return
	default:
		in.logger.Warn("previewing inbox file failed, retrying later", "file", name, "error", err)
		in.touch(path)
		return
	}

	in.logger.Info("inbox file previewed",
		slog.String("file", name),
		slog.String("job_id", preview.JobID),
		slog.Int("total_rows", preview.TotalRows),
		slog.Int("duplicates", len(preview.Duplicates)),
	)
	in.move(path, filepath.Join(in.dir, ProcessedDir, preview.JobID+"-"+name))
}

func (in *Inbox) move(from, to string) {
	if err := os.Rename(from, to); err != nil {
		in.logger.Error("moving inbox file", "from", from, "to", to, "error", err)
	}
}

// rejected reports whether err means the file itself cannot be imported.
// Anything else, such as a full job store or a database error, is retried.
func rejected(err error) bool {
	return errors.Is(err, roster.ErrMissingNameColumns) ||
		errors.Is(err, roster.ErrUnreadableFile) ||
		errors.Is(err, roster.ErrUnsupportedFormat)
}

// accepts reports whether name looks like a roster file. Hidden and
// partial-download files are ignored.
func accepts(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
		return false
	}
	return roster.FormatFromFilename(name) != roster.FormatAuto
}
