package constants

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tcsd/internal/config"
	"github.com/fyrsmithlabs/tcsd/internal/logging"
	"github.com/fyrsmithlabs/tcsd/internal/metrics"
)

// DefaultInterval is the periodic reload interval.
const DefaultInterval = 15 * time.Second

// ErrWatcherFailed indicates the file watcher could not be started.
var ErrWatcherFailed = errors.New("failed to initialize constants watcher")

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the supervisor logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics counts reload outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithInterval sets the periodic reload interval. Zero disables it.
func WithInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.interval = d }
}

// WithWatch enables reloads on file change notifications.
func WithWatch(enabled bool) Option {
	return func(s *Supervisor) { s.watch = enabled }
}

// WithClock overrides the load timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// Supervisor owns the current constants snapshot.
type Supervisor struct {
	path     string
	parser   koanf.Parser
	interval time.Duration
	watch    bool
	logger   *logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	current atomic.Pointer[Snapshot]
	version atomic.Uint64

	// serializes loads from the ticker and the watcher
	loadMu sync.Mutex
}

// New loads path and returns a supervisor publishing it. Failing to load the
// initial document is an error.
func New(path string, opts ...Option) (*Supervisor, error) {
	parser, err := parserFor(path)
	if err != nil {
		return nil, err
	}
	s := &Supervisor{
		path:     path,
		parser:   parser,
		interval: DefaultInterval,
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("constants").With(zap.String("path", path))

	snap, err := s.load()
	if err != nil {
		s.metrics.RecordReload(false)
		return nil, fmt.Errorf("loading constants: %w", err)
	}
	s.current.Store(snap)
	s.metrics.RecordReload(true)
	return s, nil
}

// Snapshot returns the current snapshot. It never returns nil.
func (s *Supervisor) Snapshot() *Snapshot {
	return s.current.Load()
}

// Reload reads the document again. On failure the previous snapshot stays
// published and the error is returned.
func (s *Supervisor) Reload(ctx context.Context) error {
	snap, err := s.load()
	if err != nil {
		s.metrics.RecordReload(false)
		s.logger.Error(ctx, "latest constants not loaded, keeping previous",
			zap.Error(err),
			zap.Uint64("version", s.Snapshot().Version()),
		)
		return err
	}
	s.current.Store(snap)
	s.metrics.RecordReload(true)
	s.logger.Debug(ctx, "constants reloaded", zap.Uint64("version", snap.Version()))
	return nil
}

func (s *Supervisor) load() (*Snapshot, error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	content, err := config.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, fmt.Errorf("constants file %s does not exist", s.path)
	}

	k := koanf.New(Delim)
	if err := k.Load(rawbytes.Provider(content), s.parser); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return &Snapshot{
		k:        k,
		source:   s.path,
		version:  s.version.Add(1),
		loadedAt: s.now(),
	}, nil
}

// Run reloads on the configured interval and, when watching, on writes to
// the file until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if s.interval > 0 {
		t := time.NewTicker(s.interval)
		defer t.Stop()
		tick = t.C
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	if s.watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
		}
		defer func() { _ = w.Close() }()
		// Watch the directory: editors replace files by rename.
		if err := w.Add(filepath.Dir(s.path)); err != nil {
			return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
		}
		events, errs = w.Events, w.Errors
	}

	s.logger.Info(ctx, "constants supervisor started",
		zap.Duration("interval", s.interval),
		zap.Bool("watch", s.watch),
	)
	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			_ = s.Reload(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			_ = s.Reload(ctx)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn(ctx, "constants watcher error", zap.Error(err))
		}
	}
}
