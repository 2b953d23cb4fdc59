package dispatch

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/SeverMM/ai-mri-analyzer/pkg/logging"
	"github.com/SeverMM/ai-mri-analyzer/pkg/ratelimit"
	"github.com/SeverMM/ai-mri-analyzer/pkg/results"
	"github.com/SeverMM/ai-mri-analyzer/pkg/vision"
)

// Prometheus metrics for batch execution.
var (
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mri_batches_total",
		Help: "Total batches by terminal state",
	}, []string{"state"})

	batchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mri_batch_duration_seconds",
		Help:    "End-to-end batch execution duration in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mri_retries_total",
		Help: "Total retry attempts across all batches",
	})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mri_retry_backoff_seconds",
		Help:    "Backoff duration before retries",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mri_retry_exhausted_total",
		Help: "Total batches abandoned after exhausting the retry budget",
	})

	shapeDefectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mri_shape_defects_total",
		Help: "Total persisted responses missing required fields",
	})
)

// State is one step of the batch execution state machine.
type State string

const (
	StatePending      State = "PENDING"
	StateSkipped      State = "SKIPPED"
	StateSending      State = "SENDING"
	StateStreaming    State = "STREAMING"
	StateRetryWait    State = "RETRY_WAIT"
	StatePersisted    State = "PERSISTED"
	StateValid        State = "VALID"
	StateInvalidShape State = "INVALID_SHAPE"
	StateFailed       State = "FAILED"
)

// Terminal reports whether the state ends a batch's execution.
// INVALID_SHAPE is terminal and non-fatal: the artifact is kept for manual
// review and the batch counts as completed.
func (s State) Terminal() bool {
	switch s {
	case StateSkipped, StateValid, StateInvalidShape, StateFailed:
		return true
	default:
		return false
	}
}

// Outcome is the result of executing one batch.
type Outcome struct {
	SeriesID   string
	BatchIndex int

	// State is the terminal state reached.
	State State

	// Transitions records the full state sequence, starting at PENDING.
	Transitions []State

	// Attempts counts network attempts made (0 when skipped).
	Attempts int

	// MissingFields lists required response fields absent from a persisted
	// response, when State is INVALID_SHAPE.
	MissingFields []string

	// Err is set when State is FAILED.
	Err error
}

// Completed reports whether the batch's artifact is persisted (or was
// already present). FAILED and cancelled batches are not completed and
// remain eligible for a resume run.
func (o Outcome) Completed() bool {
	switch o.State {
	case StateSkipped, StateValid, StateInvalidShape:
		return true
	default:
		return false
	}
}

// StreamClient is the slice of the inference API the executor needs.
type StreamClient interface {
	CreateStream(ctx context.Context, model string, messages []vision.Message) (vision.Fragments, error)
}

// Executor runs single batches through the state machine. One instance is
// shared by all batches of a run; the limiters it holds are the run's
// global budgets.
type Executor struct {
	client      StreamClient
	store       *results.Store
	limiter     *ratelimit.Limiter
	sem         *semaphore.Weighted
	model       string
	maxRetries  int
	baseBackoff time.Duration
	logger      zerolog.Logger
}

// NewExecutor creates a batch executor sharing the given limiters.
func NewExecutor(client StreamClient, store *results.Store, limiter *ratelimit.Limiter, sem *semaphore.Weighted, model string, maxRetries int, baseBackoff time.Duration) *Executor {
	return &Executor{
		client:      client,
		store:       store,
		limiter:     limiter,
		sem:         sem,
		model:       model,
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
		logger:      logging.NewLogger("executor"),
	}
}

// Run executes one batch to a terminal state. All faults are contained:
// Run never panics over a remote or I/O error and always returns an
// Outcome, so one batch can never take down its siblings.
//
// Execution order: resume check first (no limiter touched for a skipped
// batch), then the concurrency permit, then the rate limiter slot, then
// the request. Retries wait linearly (attempt x base backoff) and reuse
// the already-held concurrency permit.
func (e *Executor) Run(ctx context.Context, spec vision.RequestSpec, batch Batch) Outcome {
	out := Outcome{
		SeriesID:    spec.SeriesID,
		BatchIndex:  batch.Index,
		State:       StatePending,
		Transitions: []State{StatePending},
	}
	to := func(s State) {
		out.State = s
		out.Transitions = append(out.Transitions, s)
	}

	logger := e.logger.With().
		Str("series", spec.SeriesID).
		Int("batch", batch.Index).
		Logger()

	if e.store.Exists(spec.SeriesID, batch.Index) {
		to(StateSkipped)
		batchesTotal.WithLabelValues(string(StateSkipped)).Inc()
		logger.Info().
			Str("path", e.store.Path(spec.SeriesID, batch.Index)).
			Msg("Skipping batch - result already exists")
		return out
	}

	abandon := func(err error) Outcome {
		out.Err = err
		to(StateFailed)
		batchesTotal.WithLabelValues(string(StateFailed)).Inc()
		logger.Error().Err(err).Int("attempts", out.Attempts).Msg("Batch abandoned")
		return out
	}

	// Image bytes don't change between attempts, so the request is built once.
	paths := make([]string, len(batch.Items))
	for i, item := range batch.Items {
		paths[i] = item.Path
	}
	spec.ImagePaths = paths

	messages, err := vision.BuildMessages(spec)
	if err != nil {
		return abandon(err)
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return abandon(err)
	}
	defer e.sem.Release(1)

	if err := e.limiter.Wait(ctx); err != nil {
		return abandon(err)
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		to(StateSending)
		logger.Info().
			Int("images", len(batch.Items)).
			Int("attempt", attempt).
			Msg("Sending batch")

		content, err := e.attempt(ctx, messages, to)
		if err == nil {
			if werr := e.store.Write(spec.SeriesID, batch.Index, []byte(content)); werr != nil {
				return abandon(werr)
			}
			to(StatePersisted)
			batchDurationSeconds.Observe(time.Since(start).Seconds())
			logger.Info().
				Str("path", e.store.Path(spec.SeriesID, batch.Index)).
				Int("bytes", len(content)).
				Msg("Saved batch response")

			shape := results.CheckShape([]byte(content))
			if shape.OK() {
				to(StateValid)
			} else {
				to(StateInvalidShape)
				out.MissingFields = shape.Missing
				shapeDefectsTotal.Inc()
				logger.Warn().
					Bool("parsed", shape.Parsed).
					Strs("missing", shape.Missing).
					Msg("Response shape defect - file kept for manual inspection")
			}
			batchesTotal.WithLabelValues(string(out.State)).Inc()
			return out
		}

		if !vision.IsTransient(err) {
			return abandon(err)
		}
		if attempt > e.maxRetries {
			retryExhaustedTotal.Inc()
			return abandon(err)
		}

		to(StateRetryWait)
		backoff := time.Duration(attempt) * e.baseBackoff
		retriesTotal.Inc()
		retryBackoffSeconds.Observe(backoff.Seconds())
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_retries", e.maxRetries).
			Dur("backoff", backoff).
			Msg("Transient API error - retrying batch")

		select {
		case <-ctx.Done():
			return abandon(ctx.Err())
		case <-time.After(backoff):
		}
	}
}

// attempt sends the request once and reassembles the streamed reply into a
// single buffer. Nothing is written to disk here; persistence happens only
// after the stream completes.
func (e *Executor) attempt(ctx context.Context, messages []vision.Message, to func(State)) (string, error) {
	stream, err := e.client.CreateStream(ctx, e.model, messages)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	to(StateStreaming)

	var buf strings.Builder
	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			return buf.String(), nil
		}
		if err != nil {
			return "", err
		}
		buf.WriteString(fragment)
	}
}
