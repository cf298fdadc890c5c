package mirror

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cybozu-go/alist2strm/internal/alist"
	"github.com/cybozu-go/alist2strm/internal/config"
	"github.com/cybozu-go/alist2strm/internal/fetch"
	"github.com/cybozu-go/alist2strm/internal/retry"
)

// Engine drives one mirror synchronization run, enumerating a remote
// directory recursively, planning and executing per-entry actions, and
// optionally deleting locally-orphaned files.
type Engine struct {
	Fetcher *fetch.Client

	// NewRemoteClient builds the remote FS client for a source; overridable
	// in tests.
	NewRemoteClient func(src *config.Source) *alist.Client

	// OnEntryDone, when set, is called after each planned entry finishes
	// processing (successfully or not). It drives cmd/alist2strmctl's
	// progress bar and is never required for correctness.
	OnEntryDone func(path string, action Action, err error)
}

// NewEngine returns an Engine using the given fetcher for downloads.
func NewEngine(fetcher *fetch.Client) *Engine {
	return &Engine{
		Fetcher: fetcher,
		NewRemoteClient: func(src *config.Source) *alist.Client {
			return alist.NewClient(src.RemoteBaseURL, src.Username, src.Password, src.Token)
		},
	}
}

// RunState tracks the set of local paths produced or preserved by one run.
type RunState struct {
	mu                  sync.Mutex
	processedLocalPaths map[string]bool
	StartedAt           time.Time
	Source              *config.Source
}

// validateSource checks the minimum configuration a run needs before it
// touches the remote or local filesystem.
func validateSource(src *config.Source) error {
	switch {
	case src.RemoteBaseURL == "":
		return errors.Mark(errors.New("mirror: source has no remote base URL"), ErrConfig)
	case src.SourceDir == "":
		return errors.Mark(errors.New("mirror: source has no source_dir"), ErrConfig)
	case src.TargetDir == "":
		return errors.Mark(errors.New("mirror: source has no target_dir"), ErrConfig)
	}
	return nil
}

func newRunState(src *config.Source) *RunState {
	return &RunState{
		processedLocalPaths: make(map[string]bool),
		StartedAt:           time.Now(),
		Source:              src,
	}
}

func (rs *RunState) record(path string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.processedLocalPaths[path] = true
}

func (rs *RunState) has(path string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.processedLocalPaths[path]
}

// Run synchronizes one source. subDir scopes the run to a subtree of the
// source directory, as used by webhook-driven partial refreshes. When
// refresh is set, the remote is first asked to refresh its listing cache
// via alist.Client.RefreshTree for the source directory and subDir.
func (e *Engine) Run(ctx context.Context, src *config.Source, refresh bool, subDir string) error {
	if err := validateSource(src); err != nil {
		return err
	}
	validateMode(src)

	state := newRunState(src)
	effectiveDir := joinRemote(src.SourceDir, subDir)

	workers := make(chan struct{}, src.MaxWorkers)
	downloaders := make(chan struct{}, src.MaxDownloaders)

	client := e.NewRemoteClient(src)
	detail := src.Mode == config.ModeLocatorOriginURL

	slog.Info("mirror run starting", "source", src.ID, "dir", effectiveDir)

	if refresh {
		if err := client.RefreshTree(ctx, src.SourceDir, subDir); err != nil {
			wrapped := errors.Wrap(err, "mirror: refresh remote tree")
			if errors.Is(err, alist.ErrUnauthorized) {
				return errors.Mark(wrapped, ErrAuth)
			}
			return errors.Mark(wrapped, ErrRemote)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	filter := func(entry alist.Entry) bool {
		plan, ok := Plan(entry, src)
		if !ok {
			return false
		}
		state.record(plan.LocalPath)
		return plan.Action != ActionSkip
	}

	for entry, iterErr := range client.IterPath(gctx, effectiveDir, detail, filter) {
		if iterErr != nil {
			wrapped := errors.Wrap(iterErr, "mirror: enumerate remote tree")
			if errors.Is(iterErr, alist.ErrUnauthorized) {
				return errors.Mark(wrapped, ErrAuth)
			}
			return errors.Mark(wrapped, ErrRemote)
		}

		plan, ok := Plan(entry, src)
		if !ok || plan.Action == ActionSkip {
			continue
		}

		select {
		case workers <- struct{}{}:
		case <-gctx.Done():
			return gctx.Err()
		}

		entry, plan := entry, plan
		g.Go(func() error {
			defer func() { <-workers }()
			e.executeEntry(gctx, entry, plan, downloaders)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("mirror run traversal complete", "source", src.ID, "elapsed", time.Since(state.StartedAt))

	if src.SyncServer {
		reverseSync(state)
	}

	return nil
}

func validateMode(src *config.Source) {
	switch src.Mode {
	case config.ModeLocatorPublicURL, config.ModeLocatorOriginURL, config.ModeLocatorRemotePath:
	default:
		slog.Warn("unknown mode, falling back to default", "source", src.ID, "mode", src.Mode)
		src.Mode = config.ModeLocatorPublicURL
	}
}

// executeEntry performs one planned action, retrying the whole action on
// failure. Per-entry failures are logged and do not abort the run.
func (e *Engine) executeEntry(ctx context.Context, entry alist.Entry, plan Plan, downloaders chan struct{}) {
	policy := retry.Policy{Tries: 3, Delay: 3 * time.Second, Backoff: 2}

	err := retry.Do(ctx, policy, func() error {
		if err := os.MkdirAll(filepath.Dir(plan.LocalPath), 0o755); err != nil {
			return errors.Mark(errors.Wrap(err, "mkdir"), ErrLocalIO)
		}

		switch plan.Action {
		case ActionWriteLocator:
			if plan.LocatorContent == "" {
				return errors.Mark(errors.Newf("mirror: empty locator content for %s", entry.Path), ErrPlan)
			}
			if err := writeLocator(plan.LocalPath, plan.LocatorContent); err != nil {
				return errors.Mark(err, ErrLocalIO)
			}
			return nil
		case ActionDownload:
			select {
			case downloaders <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			defer func() { <-downloaders }()
			if err := e.Fetcher.Download(ctx, entry.DownloadURL, plan.LocalPath, 5, http.Header{}); err != nil {
				return errors.Mark(err, ErrRemote)
			}
			return nil
		default:
			return nil
		}
	})
	if e.OnEntryDone != nil {
		e.OnEntryDone(plan.LocalPath, plan.Action, err)
	}
	if err != nil {
		slog.Error("entry processing failed", "path", entry.Path, "local_path", plan.LocalPath, "error", err)
		return
	}
	slog.Info("entry processed", "path", entry.Path, "local_path", plan.LocalPath, "action", plan.Action)
}

// writeLocator atomically writes a .strm locator file: content to a temp
// file in the same directory, fsync, then rename over the destination.
func writeLocator(path, content string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".locator-*")
	if err != nil {
		return errors.Wrap(err, "create locator temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write locator content")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync locator temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close locator temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "rename locator into place")
	}
	return DirSync(dir)
}

// reverseSync deletes local files not produced by this run. Failures are
// logged per file and never fail the run.
func reverseSync(state *RunState) {
	src := state.Source
	slog.Info("reverse sync starting", "source", src.ID)

	var localFiles []string
	if src.FlattenMode {
		entries, err := os.ReadDir(src.TargetDir)
		if err != nil {
			slog.Error("reverse sync: list target dir", "error", err)
			return
		}
		for _, e := range entries {
			if !e.IsDir() {
				localFiles = append(localFiles, filepath.Join(src.TargetDir, e.Name()))
			}
		}
	} else {
		err := filepath.WalkDir(src.TargetDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				localFiles = append(localFiles, path)
			}
			return nil
		})
		if err != nil {
			slog.Error("reverse sync: walk target dir", "error", err)
			return
		}
	}

	for _, path := range localFiles {
		if state.has(path) {
			continue
		}
		if err := os.Remove(path); err != nil {
			slog.Error("reverse sync: delete orphan", "path", path, "error", err)
			continue
		}
		slog.Info("reverse sync: deleted orphan", "path", path)
	}
}
