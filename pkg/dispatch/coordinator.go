package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/SeverMM/ai-mri-analyzer/pkg/logging"
	"github.com/SeverMM/ai-mri-analyzer/pkg/ratelimit"
	"github.com/SeverMM/ai-mri-analyzer/pkg/results"
	"github.com/SeverMM/ai-mri-analyzer/pkg/series"
	"github.com/SeverMM/ai-mri-analyzer/pkg/vision"
)

// Options holds the run budgets and prompt parameters for a coordinator.
type Options struct {
	// BatchSize is the maximum images per request (1-20).
	BatchSize int

	// SampleLimit truncates each series to its first N images (0 = all).
	SampleLimit int

	// MaxConcurrent bounds batches in flight across all series.
	MaxConcurrent int

	// MaxRetries is the per-batch retry budget for transient faults.
	MaxRetries int

	// RequestsPerMinute is the global rate budget (0 = unlimited).
	RequestsPerMinute int

	// BaseBackoff is the linear backoff unit between retries.
	BaseBackoff time.Duration

	// Model overrides the client's default model when non-empty.
	Model string

	// SequenceType is the human-readable sequence description for prompts.
	SequenceType string

	// PatientContext is short demographics / relevant history.
	PatientContext string

	// PriorFlag is the preliminary AI finding to confirm or refute.
	PriorFlag string
}

// DefaultOptions returns the standard run budgets.
func DefaultOptions() Options {
	return Options{
		BatchSize:         20,
		MaxConcurrent:     5,
		MaxRetries:        3,
		RequestsPerMinute: 60,
		BaseBackoff:       2 * time.Second,
		SequenceType:      "Unknown sequence type",
		PriorFlag:         "abnormality",
	}
}

// Coordinator dispatches series through the shared limiters. Both the
// concurrency permit pool and the rate limiter are owned here and shared
// by every batch of every series the coordinator runs.
type Coordinator struct {
	executor *Executor
	opts     Options
	logger   zerolog.Logger
}

// NewCoordinator validates the run budgets and wires the shared limiters.
// Configuration errors surface here, before any dispatch begins.
func NewCoordinator(client StreamClient, store *results.Store, opts Options) (*Coordinator, error) {
	if opts.BatchSize < MinBatchSize || opts.BatchSize > MaxBatchSize {
		return nil, fmt.Errorf("%w (got %d)", ErrBatchSize, opts.BatchSize)
	}
	if opts.MaxConcurrent < 1 {
		return nil, fmt.Errorf("max concurrent must be >= 1 (got %d)", opts.MaxConcurrent)
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0 (got %d)", opts.MaxRetries)
	}
	if opts.BaseBackoff < 0 {
		return nil, fmt.Errorf("base backoff must be >= 0 (got %v)", opts.BaseBackoff)
	}
	if opts.PriorFlag == "" {
		opts.PriorFlag = "abnormality"
	}
	if opts.SequenceType == "" {
		opts.SequenceType = "Unknown sequence type"
	}

	limiter := ratelimit.New(opts.RequestsPerMinute)
	sem := semaphore.NewWeighted(int64(opts.MaxConcurrent))

	return &Coordinator{
		executor: NewExecutor(client, store, limiter, sem, opts.Model, opts.MaxRetries, opts.BaseBackoff),
		opts:     opts,
		logger:   logging.NewLogger("coordinator"),
	}, nil
}

// AnalyzeSeries plans one series into batches and runs them concurrently,
// returning once every batch reached a terminal state. Batches may finish
// out of order; a failed or defective batch never cancels its siblings.
func (c *Coordinator) AnalyzeSeries(ctx context.Context, s series.Series) ([]Outcome, error) {
	items := s.Items
	if c.opts.SampleLimit > 0 && len(items) > c.opts.SampleLimit {
		items = items[:c.opts.SampleLimit]
	}

	batches, err := Plan(items, c.opts.BatchSize)
	if err != nil {
		return nil, err
	}

	spec := vision.RequestSpec{
		SeriesID:       s.ID,
		SequenceType:   c.opts.SequenceType,
		PatientContext: c.opts.PatientContext,
		PriorFlag:      c.opts.PriorFlag,
	}

	c.logger.Info().
		Str("series", s.ID).
		Int("images", len(items)).
		Int("batches", len(batches)).
		Msg("Dispatching series")

	outcomes := make([]Outcome, len(batches))
	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch Batch) {
			defer wg.Done()
			outcomes[i] = c.executor.Run(ctx, spec, batch)
		}(i, batch)
	}
	wg.Wait()

	completed, failed := 0, 0
	for _, out := range outcomes {
		if out.Completed() {
			completed++
		} else {
			failed++
		}
	}
	c.logger.Info().
		Str("series", s.ID).
		Int("completed", completed).
		Int("failed", failed).
		Msg("Series dispatch finished")

	return outcomes, nil
}

// AnalyzeAll dispatches every series concurrently under the shared
// limiters and returns the outcomes keyed by series ID. Failures stay
// contained at batch granularity; AnalyzeAll itself only errs on
// configuration-class problems, which NewCoordinator already rules out.
func (c *Coordinator) AnalyzeAll(ctx context.Context, all []series.Series) map[string][]Outcome {
	runID := uuid.NewString()
	logger := c.logger.With().Str("run_id", runID).Logger()
	logger.Info().Int("series", len(all)).Msg("Starting dispatch run")

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		outcomes = make(map[string][]Outcome, len(all))
	)

	for _, s := range all {
		wg.Add(1)
		go func(s series.Series) {
			defer wg.Done()
			result, err := c.AnalyzeSeries(ctx, s)
			if err != nil {
				logger.Error().Err(err).Str("series", s.ID).Msg("Series dispatch error")
				return
			}
			mu.Lock()
			outcomes[s.ID] = result
			mu.Unlock()
		}(s)
	}
	wg.Wait()

	logger.Info().Msg("Dispatch run finished")
	return outcomes
}
