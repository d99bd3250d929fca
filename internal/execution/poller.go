package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mint/backend/internal/logging"
	"mint/backend/internal/observability"
	"mint/backend/pkg/models"
)

// Store is the storage the poller reads in-flight runs from and writes progress to. The poller
// only issues narrow writes so it never races user edits of a thread.
type Store interface {
	ListInFlightEnsembles(ctx context.Context, limit int) ([]models.ExecutableEnsemble, error)
	RecordRunStates(ctx context.Context, threadID string, ensembles []models.ExecutableEnsemble) error
	ListEnsembles(ctx context.Context, threadID, modelID string) ([]models.ExecutableEnsemble, error)
	UpdateExecutionSummary(ctx context.Context, threadID, modelID string, summary models.ExecutionSummary, event *models.ThreadEvent) error
}

// StatusSource reports run states.
type StatusSource interface {
	Status(ctx context.Context, runIDs []string) ([]RunState, error)
}

// PollerConfig holds poller configuration.
type PollerConfig struct {
	Interval  time.Duration
	BatchSize int
	// MaxPerTick bounds how many in-flight ensembles are examined per tick.
	MaxPerTick int
}

// DefaultPollerConfig returns sensible defaults.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{Interval: 10 * time.Second, BatchSize: 50, MaxPerTick: 1000}
}

// Poller periodically refreshes the run state of submitted ensembles.
type Poller struct {
	store   Store
	source  StatusSource
	config  PollerConfig
	logger  *logging.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPoller creates a Poller.
func NewPoller(store Store, source StatusSource, cfg PollerConfig, logger *logging.Logger, metrics *observability.Metrics) *Poller {
	def := DefaultPollerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxPerTick <= 0 {
		cfg.MaxPerTick = def.MaxPerTick
	}
	if metrics == nil {
		metrics = observability.Noop()
	}
	return &Poller{
		store:   store,
		source:  source,
		config:  cfg,
		logger:  logger.Component("poller"),
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start runs the polling loop. It blocks until ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("poller already started")
	}
	p.started = true
	p.mu.Unlock()
	defer close(p.doneCh)

	p.logger.Info("poller started", "interval", p.config.Interval)
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping (context cancelled)")
			return ctx.Err()
		case <-p.stopCh:
			p.logger.Info("poller stopping (stop called)")
			return nil
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				p.logger.Error("tick error", "error", err)
			}
		}
	}
}

// Stop ends the loop and waits for the current tick to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	started := p.started
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	p.mu.Unlock()
	if started {
		<-p.doneCh
	}
}

// Tick runs a single polling iteration.
func (p *Poller) Tick(ctx context.Context) error {
	inflight, err := p.store.ListInFlightEnsembles(ctx, p.config.MaxPerTick)
	if err != nil {
		return fmt.Errorf("list in-flight: %w", err)
	}
	if len(inflight) == 0 {
		return nil
	}

	states := make(map[string]RunState, len(inflight))
	for start := 0; start < len(inflight); start += p.config.BatchSize {
		end := min(start+p.config.BatchSize, len(inflight))
		ids := make([]string, 0, end-start)
		for _, e := range inflight[start:end] {
			ids = append(ids, e.RunID)
		}
		batch, err := p.source.Status(ctx, ids)
		if err != nil {
			// keep going; the remaining batches may still succeed
			p.logger.Warn("status fetch failed", "runs", len(ids), "error", err)
			continue
		}
		for _, s := range batch {
			states[s.RunID] = s
		}
	}

	if len(states) == 0 {
		return nil
	}

	// every polled ensemble is written back, changed or not, so the next tick reaches
	// runs beyond MaxPerTick
	polled := map[string][]models.ExecutableEnsemble{}
	touched := map[string]map[string]bool{}
	changes := 0
	for _, e := range inflight {
		if s, ok := states[e.RunID]; ok && apply(&e, s) {
			changes++
			if touched[e.ThreadID] == nil {
				touched[e.ThreadID] = map[string]bool{}
			}
			touched[e.ThreadID][e.ModelID] = true
			if e.Status.Terminal() {
				p.metrics.RunCompleted(ctx, e.ModelID, string(e.Status))
			}
		}
		polled[e.ThreadID] = append(polled[e.ThreadID], e)
	}

	threadIDs := make([]string, 0, len(polled))
	for id := range polled {
		threadIDs = append(threadIDs, id)
	}
	sort.Strings(threadIDs)

	for _, threadID := range threadIDs {
		if err := p.store.RecordRunStates(ctx, threadID, polled[threadID]); err != nil {
			return fmt.Errorf("record runs of thread %s: %w", threadID, err)
		}
		if len(touched[threadID]) == 0 {
			continue
		}
		if err := p.refreshSummary(ctx, threadID, touched[threadID]); err != nil {
			return fmt.Errorf("refresh summary of thread %s: %w", threadID, err)
		}
	}
	p.logger.Debug("tick complete", "inflight", len(inflight), "changed", changes, "threads_changed", len(touched))
	return nil
}

// apply copies s onto e and reports whether anything changed.
func apply(e *models.ExecutableEnsemble, s RunState) bool {
	if s.Status == "" {
		return false
	}
	if e.Status == s.Status && e.RunProgress == s.RunProgress && len(s.Results) == 0 {
		return false
	}
	e.Status = s.Status
	e.RunProgress = s.RunProgress
	if e.Status == models.RunStatusSuccess {
		e.RunProgress = 1
	}
	if len(s.Results) > 0 {
		e.Results = s.Results
	}
	return true
}

func (p *Poller) refreshSummary(ctx context.Context, threadID string, modelIDs map[string]bool) error {
	ids := make([]string, 0, len(modelIDs))
	for id := range modelIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := p.now()
	for _, modelID := range ids {
		ensembles, err := p.store.ListEnsembles(ctx, threadID, modelID)
		if err != nil {
			return err
		}
		if err := p.store.UpdateExecutionSummary(ctx, threadID, modelID, models.Summarize(ensembles, now), nil); err != nil {
			return err
		}
	}
	return nil
}
