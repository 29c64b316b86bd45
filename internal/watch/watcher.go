// internal/watch/watcher.go
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"strata/internal/commit"
	"strata/internal/content"
	"strata/internal/ident"
	"strata/internal/logging"
	"strata/internal/repo"
)

const DefaultDebounce = 500 * time.Millisecond

type Options struct {
	Repo     *repo.Repository
	Dir      string
	Branch   ident.RefName
	Author   string
	Debounce time.Duration
	Ignore   []string
	Clock    func() time.Time
	// OnCommit is called after every automatic commit.
	OnCommit func(*commit.Result)
	Logger   *zap.Logger
}

// Watcher commits a working directory to a branch whenever its files settle after a
// change.
type Watcher struct {
	dir      string
	branch   ident.RefName
	author   string
	debounce time.Duration
	now      func() time.Time
	onCommit func(*commit.Result)

	scanner  *content.Scanner
	pipeline *commit.Pipeline
	fsw      *fsnotify.Watcher
	log      *zap.Logger
}

func New(opts Options) (*Watcher, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("watch: repository is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Author == "" {
		opts.Author = "strata-watch"
	}
	log := logging.OrNop(opts.Logger).Named("watch")

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, err
	}
	scanner, err := content.NewScanner(opts.Repo.Objects, content.Options{Ignore: opts.Ignore, Logger: log})
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	return &Watcher{
		dir:      dir,
		branch:   opts.Branch,
		author:   opts.Author,
		debounce: opts.Debounce,
		now:      opts.Clock,
		onCommit: opts.OnCommit,
		scanner:  scanner,
		pipeline: commit.NewPipeline(opts.Repo.Objects, opts.Repo.Refs, log),
		fsw:      fsw,
		log:      log,
	}, nil
}

// Sync scans the directory and commits it if it differs from the branch tip. It returns
// nil when nothing changed.
func (w *Watcher) Sync() (*commit.Result, error) {
	idx, err := w.scanner.Scan(w.dir)
	if err != nil {
		return nil, err
	}
	current, err := w.pipeline.Snapshot(w.branch)
	if err != nil {
		return nil, err
	}
	if !content.Changed(idx, current) {
		return nil, nil
	}

	res, err := w.pipeline.Commit(commit.Request{
		Ref:     w.branch,
		Index:   idx,
		Author:  w.author,
		Message: fmt.Sprintf("auto: %d file(s) at %s", idx.Len(), w.now().UTC().Format(time.RFC3339)),
		Now:     w.now(),
	})
	if err != nil {
		return nil, err
	}
	w.log.Info("auto commit",
		zap.String("branch", w.branch.String()),
		zap.String("commit", res.Commit.Short()),
		zap.Int("files", idx.Len()))
	if w.onCommit != nil {
		w.onCommit(res)
	}
	return res, nil
}

// Run watches until ctx is cancelled. It syncs once at start, then after every burst of
// events once Debounce has passed without another.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	if err := w.addTree(w.dir); err != nil {
		return err
	}
	if _, err := w.Sync(); err != nil {
		return err
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.handle(event) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watcher error", zap.Error(err))
		case <-timer.C:
			if _, err := w.Sync(); err != nil {
				w.log.Error("auto commit failed", zap.Error(err))
			}
		}
	}
}

// handle reports whether event should trigger a sync.
func (w *Watcher) handle(event fsnotify.Event) bool {
	rel, err := filepath.Rel(w.dir, event.Name)
	if err != nil {
		w.log.Error("getting relative path", zap.Error(err))
		return false
	}
	if w.scanner.ShouldIgnore(filepath.ToSlash(rel)) {
		return false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.log.Error("adding new directory to watcher", zap.Error(err))
			}
		}
	}
	w.log.Debug("change", zap.String("path", rel), zap.String("op", event.Op.String()))
	return true
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.dir, path)
		if err != nil {
			return err
		}
		if w.scanner.ShouldIgnore(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}
