package worker

import (
	"context"
	"fmt"
	"time"

	"sjsage522/bcfinder/internal/metrics"
	"sjsage522/bcfinder/internal/record"
	"sjsage522/bcfinder/internal/source"
	"sjsage522/bcfinder/logger"
	"sjsage522/bcfinder/pkg/errors"
	"sjsage522/bcfinder/services/notifier"
	"sjsage522/bcfinder/services/store"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// State is the step a source run is in
type State string

const (
	StateFetching    State = "fetching"
	StateExtracting  State = "extracting"
	StateNormalizing State = "normalizing"
	StateDeduping    State = "deduping"
	StateNotifying   State = "notifying"
	StatePersisting  State = "persisting"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Notifier delivers announcements and operator alerts
type Notifier interface {
	Notify(ctx context.Context, msg notifier.Message) error
	Alert(ctx context.Context, text string) error
	Trim(ctx context.Context) error
}

// Result summarizes one source run
type Result struct {
	Source    string
	RunID     string
	State     State
	Extracted int
	New       int
	Notified  int
	Failed    int
	Err       error
}

// Worker sweeps every source on a schedule
type Worker struct {
	ctx           context.Context
	sources       []source.Source
	store         store.Store
	notifier      Notifier
	metrics       *metrics.Metrics
	crawlInterval time.Duration
	location      *time.Location
}

// NewWorker creates a new worker. A nil location logs in UTC.
func NewWorker(
	ctx context.Context,
	sources []source.Source,
	st store.Store,
	n Notifier,
	m *metrics.Metrics,
	crawlInterval time.Duration,
	location *time.Location,
) *Worker {
	if location == nil {
		location = time.UTC
	}
	return &Worker{
		ctx:           ctx,
		sources:       sources,
		store:         st,
		notifier:      n,
		metrics:       m,
		crawlInterval: crawlInterval,
		location:      location,
	}
}

// Start runs a sweep immediately and then every crawl interval until the
// worker's context is cancelled. Sweeps never overlap.
func (w *Worker) Start() error {
	log := logger.ForWorker()

	w.RunAll(w.ctx)

	c := cron.New(
		cron.WithLocation(w.location),
		cron.WithLogger(logger.CronLogger()),
		cron.WithChain(
			cron.Recover(logger.CronLogger()),
			cron.SkipIfStillRunning(logger.CronLogger()),
		),
	)
	if _, err := c.AddFunc("@every "+w.crawlInterval.String(), func() { w.RunAll(w.ctx) }); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	c.Start()
	log.Info().Dur("interval", w.crawlInterval).Msg("Job started")

	<-w.ctx.Done()

	// wait for a running sweep to finish
	<-c.Stop().Done()
	log.Info().Msg("Scheduler stopped")
	return nil
}

// RunAll runs every source once, in order. A failing source is reported to
// the operator and does not stop the sweep.
func (w *Worker) RunAll(ctx context.Context) []Result {
	runID := uuid.NewString()
	log := logger.ForWorker().WithField("run_id", runID)
	start := time.Now()

	results := make([]Result, 0, len(w.sources))
	for _, src := range w.sources {
		if ctx.Err() != nil {
			break
		}

		log.Info().
			Str("source", src.ID).
			Str("at", time.Now().In(w.location).Format(time.DateTime)).
			Msgf("Run scheduled job with %s", src.Name)

		res := w.runSource(ctx, src, runID)
		results = append(results, res)

		if res.Err != nil {
			w.reportFailure(ctx, src, res)
		}
	}

	if err := w.notifier.Trim(ctx); err != nil {
		logger.LogError("worker", err, "Failed to trim transport")
	}

	log.Debug().Dur("elapsed", time.Since(start)).Msg("Sweep finished")
	return results
}

// runSource moves a single source through fetch, extract, normalize and then
// dedup, notify and persist one record at a time in document order
func (w *Worker) runSource(ctx context.Context, src source.Source, runID string) Result {
	log := logger.ForSource(src.ID).WithFields(logger.Fields{"run_id": runID, "source_name": src.Name})
	start := time.Now()
	defer func() { w.metrics.Observe(src.ID, time.Since(start)) }()

	res := Result{Source: src.ID, RunID: runID, State: StateFetching}
	fail := func(err error) Result {
		res.Err = err
		w.metrics.Failed(src.ID, string(errors.TypeOf(err)))
		log.Error().Err(err).Str("state", string(res.State)).Msg("Source run failed")
		res.State = StateFailed
		return res
	}

	raw, err := src.Adapter.Fetch(ctx)
	if err != nil {
		return fail(err)
	}

	res.State = StateExtracting
	batch, err := src.Adapter.Extract(ctx, raw)
	if err != nil {
		return fail(err)
	}

	res.State = StateNormalizing
	normalizer := src.Adapter.Normalizer()
	records := make([]record.Record, 0, len(batch.Rows))
	for _, row := range batch.Rows {
		records = append(records, record.New(normalizer.Apply(row)))
	}
	res.Extracted = len(records)
	w.metrics.Extracted(src.ID, len(records))

	res.State = StateDeduping
	if err := w.store.EnsureTable(ctx, src.ID, batch.Schema.Columns()); err != nil {
		return fail(err)
	}

	for _, rec := range records {
		res.State = StateDeduping
		exists, err := w.store.Exists(ctx, src.ID, rec.Fingerprint())
		if err != nil {
			return fail(err)
		}
		if exists {
			continue
		}
		res.New++
		w.metrics.NewRecord(src.ID)

		res.State = StateNotifying
		msg := src.Message(rec)
		if err := w.notifier.Notify(ctx, msg); err != nil {
			// left unpersisted so the next sweep tries again
			res.Failed++
			w.metrics.Notified(src.ID, false)
			log.Warn().Err(err).Str("title", msg.Title).Msg("Notification failed")
			continue
		}
		res.Notified++
		w.metrics.Notified(src.ID, true)

		res.State = StatePersisting
		if err := w.store.Insert(ctx, src.ID, rec); err != nil {
			if errors.Is(err, errors.ErrorTypeConstraintViolation) {
				w.metrics.Duplicate(src.ID)
				log.Debug().Str("fingerprint", rec.Fingerprint()).Msg("Record already stored")
				continue
			}
			return fail(err)
		}
		log.Info().Str("title", msg.Title).Str("fingerprint", rec.Fingerprint()).Msg("New announcement")
	}

	if res.New == 0 {
		log.Info().Int("extracted", res.Extracted).Msg("No new announcements")
	}

	res.State = StateDone
	return res
}

// reportFailure alerts the operator. A source blocked by its own rate limit
// is only logged, the block expires on its own.
func (w *Worker) reportFailure(ctx context.Context, src source.Source, res Result) {
	if errors.Is(res.Err, errors.ErrorTypeRateLimit) {
		return
	}

	text := fmt.Sprintf("[%s] %s run %s failed: %v", src.Name, src.ID, res.RunID, res.Err)
	if err := w.notifier.Alert(ctx, text); err != nil {
		logger.ForWorker().WithError(err).Error().
			Str("source", src.ID).
			AnErr("run_error", res.Err).
			Msg("Failed to alert operator")
	}
}
