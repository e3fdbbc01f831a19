package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"tradechains/internal/logger"
	"tradechains/internal/server"
)

// debounce coalesces the burst of filesystem events a single editor save or
// file sync produces.
const debounce = 500 * time.Millisecond

// Serve runs the pipeline once, then serves the result over HTTP and
// re-runs whenever an input file or the chain database changes.
func (p *Pipeline) Serve(ctx context.Context) error {
	srv := server.New(p.cfg.Server.Listen)

	snap, err := p.Run(ctx)
	if err != nil {
		return err
	}
	srv.SetSnapshot(snap)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx)
	})
	g.Go(func() error {
		return p.watch(ctx, srv)
	})
	return g.Wait()
}

// selfWritten reports whether the path is one of the pipeline's own output
// files: the transaction store and its SQLite sidecars, the chain database
// temp file, and the rendered reports.
func (p *Pipeline) selfWritten(name string) bool {
	clean := filepath.Clean(name)
	db := filepath.Clean(p.cfg.Database.Path)
	if clean == db || strings.HasPrefix(clean, db+"-") {
		return true
	}
	if strings.HasPrefix(filepath.Base(clean), ".chains-") {
		return true
	}
	dir := p.cfg.Report.OutputDir
	return clean == filepath.Clean(filepath.Join(dir, "chains.csv")) ||
		clean == filepath.Clean(filepath.Join(dir, "chains.html"))
}

func (p *Pipeline) watch(ctx context.Context, srv *server.Server) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dirs := make(map[string]struct{})
	for _, glob := range p.cfg.Input.Globs {
		dirs[filepath.Dir(glob)] = struct{}{}
	}
	dirs[filepath.Dir(p.cfg.Chains.Path)] = struct{}{}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			logger.Warnf("cannot watch %s: %v", dir, err)
		}
	}

	var timer *time.Timer
	pending := make(chan struct{}, 1)
	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			select {
			case pending <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			// Every run rewrites the chain database and the local store into
			// watched directories; reacting to those writes would retrigger
			// the pipeline forever.
			if p.selfWritten(event.Name) {
				continue
			}
			if filepath.Clean(event.Name) == filepath.Clean(p.cfg.Chains.Path) && p.chainsUnchanged() {
				continue
			}
			logger.Debugf("input change: %s", event)
			schedule()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("watch error: %v", err)
		case <-pending:
			snap, err := p.Run(ctx)
			if err != nil {
				// Keep serving the previous snapshot; a half-edited
				// input file will trigger another event when it lands.
				logger.Errorf("rerun failed: %v", err)
				continue
			}
			srv.SetSnapshot(snap)
			logger.Infof("result refreshed at %s", snap.GeneratedAt.Format(time.RFC3339))
		}
	}
}
