// Package inference drives a sampling run: it resumes from the latest
// checkpoint, advances the sampler one checkpoint interval at a time, keeps
// burn-in, thinning and effective-sample bookkeeping current, and promotes
// the final checkpoint to the output file.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/gwinfer/pkg/alg/stats"
	"github.com/Sumatoshi-tech/gwinfer/pkg/burnin"
	"github.com/Sumatoshi-tech/gwinfer/pkg/checkpoint"
	"github.com/Sumatoshi-tech/gwinfer/pkg/config"
	"github.com/Sumatoshi-tech/gwinfer/pkg/ledger"
	"github.com/Sumatoshi-tech/gwinfer/pkg/model"
	"github.com/Sumatoshi-tech/gwinfer/pkg/observability"
	"github.com/Sumatoshi-tech/gwinfer/pkg/persist"
	"github.com/Sumatoshi-tech/gwinfer/pkg/sampler"
	"github.com/Sumatoshi-tech/gwinfer/pkg/thinning"
)

// Sentinel errors.
var (
	ErrConfigMismatch = errors.New("checkpoint was written with a different configuration")
	ErrOutputExists   = errors.New("output file already exists")
)

const (
	tracerName = "gwinfer"

	// etaSmoothing weights the latest batch in the seconds-per-iteration average.
	etaSmoothing = 0.3
)

// Options configures a Runner.
type Options struct {
	Config *config.Config
	Output string

	// Model supplies the posterior and starting points. Nil builds the
	// model named in Config.
	Model model.Model

	// Codec encodes checkpoint records. Nil selects gob.
	Codec persist.Codec

	// Force starts a fresh run even when Output already exists.
	Force bool

	// RetainBackup keeps {output}.bkup after the run completes.
	RetainBackup bool

	// Logger is the structured logger. When nil, a discard logger is used.
	Logger *slog.Logger

	// Tracer creates the run span. When nil, the global tracer is used.
	Tracer trace.Tracer

	// Metrics records sampler metrics. Nil-safe.
	Metrics *observability.SamplerMetrics

	// Ledger receives run events. When nil, events are dropped.
	Ledger ledger.Ledger
}

// Runner executes one run for one output path.
type Runner struct {
	cfg         *config.Config
	output      string
	model       model.Model
	writer      *checkpoint.Writer
	burnIn      *burnin.Evaluator
	fingerprint string
	force       bool
	workers     int

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.SamplerMetrics
	ledger  ledger.Ledger

	runID string

	// needsCheckpoint is set while the file on disk is behind the run state:
	// after a failed write, or after resuming from the backup.
	needsCheckpoint bool
}

// NewRunner validates opts.Config and prepares a runner. Configuration
// problems wrap config.ErrConfiguration and are reported before any
// iteration runs.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("%w: no configuration", config.ErrConfiguration)
	}

	err := opts.Config.Validate()
	if err != nil {
		return nil, err
	}

	err = StoppingFromConfig(opts.Config).Validate(opts.Config.Sampler.CheckpointInterval)
	if err != nil {
		return nil, err
	}

	eval, err := opts.Config.Sampler.BurnInEvaluator()
	if err != nil {
		return nil, err
	}

	mdl := opts.Model
	if mdl == nil {
		mdl, err = model.New(opts.Config)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
		}
	}

	r := &Runner{
		cfg:         opts.Config,
		output:      opts.Output,
		model:       mdl,
		writer:      checkpoint.NewWriter(opts.Output, opts.Codec, checkpoint.WithRetainBackup(opts.RetainBackup)),
		burnIn:      eval,
		fingerprint: opts.Config.Fingerprint(),
		force:       opts.Force,
		workers:     opts.Config.Sampler.Workers(),
		logger:      opts.Logger,
		tracer:      opts.Tracer,
		metrics:     opts.Metrics,
		ledger:      opts.Ledger,
	}

	if r.logger == nil {
		r.logger = observability.DiscardLogger()
	}

	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}

	if r.ledger == nil {
		r.ledger = ledger.Nop{}
	}

	return r, nil
}

// RunID returns the id of the current run, empty before Resume or Start.
func (r *Runner) RunID() string {
	return r.runID
}

// Paths returns the checkpoint file layout of the run.
func (r *Runner) Paths() checkpoint.Paths {
	return r.writer.Paths()
}

// Run resumes from the latest checkpoint, or starts fresh when there is
// none, and runs to the configured stopping condition.
func (r *Runner) Run(ctx context.Context) (*sampler.RunState, error) {
	state, err := r.Resume(ctx)
	if err != nil {
		return nil, err
	}

	if state == nil {
		state, err = r.Start(ctx)
		if err != nil {
			return nil, err
		}
	}

	return r.RunToCompletion(ctx, state, StoppingFromConfig(r.cfg))
}

// Resume loads the latest checkpoint. It returns a nil state when there is
// nothing to resume. A corrupted checkpoint falls back to the backup; a
// corrupted backup is fatal. A checkpoint written under different sampler
// settings fails with ErrConfigMismatch.
func (r *Runner) Resume(ctx context.Context) (*sampler.RunState, error) {
	rec, err := checkpoint.LoadLatest(r.output)

	switch {
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
		return nil, nil //nolint:nilnil // nothing to resume
	case errors.Is(err, checkpoint.ErrCheckpointCorrupted):
		r.logger.WarnContext(ctx, "checkpoint corrupted, falling back to backup", "error", err)

		rec, err = checkpoint.LoadBackup(r.output)
		if err != nil {
			return nil, fmt.Errorf("resume %s: %w", r.output, err)
		}

		// Set the corrupted file aside so the next rotation keeps the good backup.
		corrupt := r.writer.Paths().Checkpoint
		if mvErr := os.Rename(corrupt, corrupt+".corrupt"); mvErr != nil {
			r.logger.WarnContext(ctx, "failed to set corrupted checkpoint aside", "path", corrupt, "error", mvErr)
		}

		r.needsCheckpoint = true
	case err != nil:
		return nil, fmt.Errorf("resume %s: %w", r.output, err)
	}

	if rec.Metadata.ConfigFingerprint != r.fingerprint {
		return nil, fmt.Errorf("%w:\n%s", ErrConfigMismatch, lineDiff(rec.Metadata.ConfigFingerprint, r.fingerprint))
	}

	r.runID = rec.Metadata.RunID
	if r.runID == "" {
		r.runID = checkpoint.NewRunID()
	}

	state := &rec.State

	r.logger.InfoContext(ctx, fmt.Sprintf("starting from iteration %d", state.Iteration),
		"run_id", r.runID, "burned_in", state.BurnIn.BurnedIn, "thin", state.Thin)

	trace.SpanFromContext(ctx).AddEvent("checkpoint.resumed", trace.WithAttributes(
		attribute.Int("iteration", state.Iteration),
	))

	r.appendLedger(ctx, ledger.EventResumed, summaryOf(state, rec.Metadata.EffectiveSamples, rec.Metadata.ACL))

	return state, nil
}

// Start creates a fresh run state and places every walker. It refuses to
// overwrite an existing output unless Force was set.
func (r *Runner) Start(ctx context.Context) (*sampler.RunState, error) {
	paths := r.writer.Paths()

	if !r.force && fileExists(paths.Output) {
		return nil, fmt.Errorf("%w: %s", ErrOutputExists, paths.Output)
	}

	err := r.writer.Clear()
	if err != nil {
		return nil, fmt.Errorf("clear stale checkpoint: %w", err)
	}

	ladder, err := r.cfg.Sampler.Ladder()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}

	state, err := sampler.NewRunState(r.cfg.VariableParams, ladder, r.cfg.Sampler.NWalkers, r.cfg.Sampler.Seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}

	err = sampler.NewManager(state, r.model, r.workers).Initialize(ctx, r.model)
	if err != nil {
		return nil, fmt.Errorf("initialize walkers: %w", err)
	}

	r.runID = checkpoint.NewRunID()
	r.needsCheckpoint = true

	r.logger.InfoContext(ctx, "starting from iteration 0",
		"run_id", r.runID, "nwalkers", state.NWalkers, "ntemps", state.NTemps(), "ndim", state.NDim())

	r.appendLedger(ctx, ledger.EventStarted, summaryOf(state, 0, 0))

	return state, nil
}

// batchSummary is the bookkeeping result of one checkpoint boundary.
type batchSummary struct {
	iteration        int
	burnIn           sampler.BurnInStatus
	effectiveSamples int
	acl              float64
	storedSamples    int
	thinFactor       int
	acceptance       float64
	swapAcceptance   []float64
	checkpointErr    error
	checkpointDur    time.Duration
}

func summaryOf(state *sampler.RunState, effectiveSamples int, acl float64) batchSummary {
	return batchSummary{
		iteration:        state.Iteration,
		burnIn:           state.BurnIn,
		effectiveSamples: effectiveSamples,
		acl:              acl,
		storedSamples:    state.StoredSamples(),
	}
}

// RunToCompletion advances state one checkpoint interval at a time until
// stop is reached, then guarantees a final checkpoint and promotes it to the
// output. Cancellation discards the in-flight batch and returns the context
// error; the last checkpoint stays valid.
func (r *Runner) RunToCompletion(
	ctx context.Context, state *sampler.RunState, stop StoppingCondition,
) (*sampler.RunState, error) {
	err := stop.Validate(r.cfg.Sampler.CheckpointInterval)
	if err != nil {
		return nil, err
	}

	if state == nil {
		return nil, errors.New("run to completion: nil run state")
	}

	if r.runID == "" {
		r.runID = checkpoint.NewRunID()
	}

	mgr := sampler.NewManager(state, r.model, r.workers)

	ctx, span := r.tracer.Start(ctx, "gwinfer.run", trace.WithAttributes(
		attribute.String("run.id", r.runID),
		attribute.Int("run.start_iteration", state.Iteration),
		attribute.Int("run.niterations", stop.NIterations),
		attribute.Int("run.effective_nsamples", stop.EffectiveNSamples),
		attribute.Int("run.checkpoint_interval", r.cfg.Sampler.CheckpointInterval),
	))
	defer span.End()

	ctx = observability.WithRunID(ctx, r.runID)

	var ess int

	_ = mgr.Locked(func(s *sampler.RunState) error {
		ess = thinning.EffectiveSamples(s)

		return nil
	})

	rate := stats.NewIterationRate(etaSmoothing)

	for {
		iteration := mgr.CurrentIteration()

		done, reason := stop.Reached(iteration, ess)
		if done {
			r.logger.InfoContext(ctx, "stopping condition reached",
				"reason", reason, "iteration", iteration, "effective_samples", ess)

			break
		}

		n := stop.nextBatch(iteration, r.cfg.Sampler.CheckpointInterval)
		start := time.Now()

		err = mgr.Advance(ctx, n)
		if err != nil {
			return nil, r.fail(ctx, span, iteration, err)
		}

		elapsed := time.Since(start)
		rate.Observe(elapsed, n)

		var summary batchSummary

		_ = mgr.Locked(func(s *sampler.RunState) error {
			summary = r.bookkeep(ctx, s)

			return nil
		})

		ess = summary.effectiveSamples
		r.report(ctx, summary, elapsed, n, stop, rate)
	}

	err = r.finish(ctx, mgr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	span.SetAttributes(
		attribute.Int("run.final_iteration", state.Iteration),
		attribute.Int("run.effective_samples", ess),
	)

	return state, nil
}

// bookkeep runs at every checkpoint boundary with the run state locked:
// burn-in, storage cap, effective samples, then the checkpoint write.
func (r *Runner) bookkeep(ctx context.Context, s *sampler.RunState) batchSummary {
	wasBurnedIn := s.BurnIn.BurnedIn

	if r.burnIn != nil {
		s.BurnIn = r.burnIn.Evaluate(s).Status()
	} else {
		s.BurnIn = sampler.BurnInStatus{BurnedIn: true}
	}

	if s.BurnIn.BurnedIn && !wasBurnedIn {
		r.logger.InfoContext(ctx, "burn-in reached", "burn_in_iteration", s.BurnIn.Iteration, "iteration", s.Iteration)

		trace.SpanFromContext(ctx).AddEvent("burnin.reached", trace.WithAttributes(
			attribute.Int("burn_in_iteration", s.BurnIn.Iteration),
		))
	}

	if !s.BurnIn.BurnedIn && r.burnIn != nil && r.logger.Enabled(ctx, slog.LevelDebug) {
		for name, res := range r.burnIn.Details(s) {
			r.logger.DebugContext(ctx, "burn-in test", "test", name, "passed", res.BurnedIn, "iteration", s.Iteration)
		}
	}

	summary := batchSummary{
		thinFactor: thinning.EnforceCap(s, r.cfg.Sampler.MaxSamplesPerChain),
	}

	summary.effectiveSamples = thinning.EffectiveSamples(s)
	summary.acl = currentACL(s)
	summary.iteration = s.Iteration
	summary.burnIn = s.BurnIn
	summary.storedSamples = s.StoredSamples()
	summary.acceptance = meanAcceptance(s)
	summary.swapAcceptance = swapAcceptance(s)

	start := time.Now()
	summary.checkpointErr = r.writeCheckpoint(s, summary.effectiveSamples, summary.acl)
	summary.checkpointDur = time.Since(start)

	return summary
}

func (r *Runner) writeCheckpoint(s *sampler.RunState, effectiveSamples int, acl float64) error {
	rec := checkpoint.NewRecord(s, checkpoint.Metadata{
		RunID:             r.runID,
		Model:             r.model.Name(),
		ConfigFingerprint: r.fingerprint,
		EffectiveSamples:  effectiveSamples,
		ACL:               acl,
	})

	err := r.writer.Checkpoint(rec)
	r.needsCheckpoint = err != nil

	return err
}

// report logs, traces and records one completed batch.
func (r *Runner) report(
	ctx context.Context, summary batchSummary, elapsed time.Duration, n int, stop StoppingCondition, rate *stats.IterationRate,
) {
	span := trace.SpanFromContext(ctx)

	r.metrics.RecordBatch(ctx, observability.BatchStats{
		Iterations:       n,
		Duration:         elapsed,
		EffectiveSamples: summary.effectiveSamples,
		StoredSamples:    summary.storedSamples,
		Acceptance:       summary.acceptance,
		SwapAcceptance:   summary.swapAcceptance,
	})
	r.metrics.RecordCheckpoint(ctx, summary.checkpointDur, summary.checkpointErr)

	if summary.thinFactor > 1 {
		r.logger.InfoContext(ctx, "thinned stored samples", "factor", summary.thinFactor,
			"stored_samples", summary.storedSamples)
	}

	attrs := []any{
		"iteration", summary.iteration,
		"burned_in", summary.burnIn.BurnedIn,
		"effective_samples", summary.effectiveSamples,
		"acl", summary.acl,
		"acceptance", summary.acceptance,
	}

	if remaining, ok := rate.Remaining(stop.NIterations - summary.iteration); stop.NIterations > 0 && ok {
		attrs = append(attrs, "eta", remaining.Round(time.Second).String())
	}

	if summary.checkpointErr != nil {
		r.logger.WarnContext(ctx, "failed to save checkpoint, retrying at next interval",
			append(attrs, "error", summary.checkpointErr)...)

		span.AddEvent("checkpoint.failed", trace.WithAttributes(
			attribute.Int("iteration", summary.iteration),
			attribute.String("error", summary.checkpointErr.Error()),
		))

		r.appendLedger(ctx, ledger.EventCheckpointFailed, summary)

		return
	}

	r.logger.InfoContext(ctx, "checkpoint: saved", attrs...)

	span.AddEvent("checkpoint.saved", trace.WithAttributes(
		attribute.Int("iteration", summary.iteration),
		attribute.Int("effective_samples", summary.effectiveSamples),
	))

	r.appendLedger(ctx, ledger.EventCheckpoint, summary)
}

// finish rewrites the checkpoint when the file on disk is behind the run
// state, then promotes it to the output.
func (r *Runner) finish(ctx context.Context, mgr *sampler.Manager) error {
	var summary batchSummary

	err := mgr.Locked(func(s *sampler.RunState) error {
		summary = summaryOf(s, thinning.EffectiveSamples(s), currentACL(s))

		if !r.needsCheckpoint {
			return nil
		}

		return r.writeCheckpoint(s, summary.effectiveSamples, summary.acl)
	})
	if err != nil {
		return fmt.Errorf("final checkpoint: %w", err)
	}

	err = r.writer.Finalize()
	if err != nil {
		return fmt.Errorf("finalize output: %w", err)
	}

	r.logger.InfoContext(ctx, "run complete", "output", r.output, "iteration", summary.iteration,
		"effective_samples", summary.effectiveSamples)

	r.appendLedger(ctx, ledger.EventCompleted, summary)

	return nil
}

// fail logs a fatal batch error. Prior checkpoint files are untouched.
func (r *Runner) fail(ctx context.Context, span trace.Span, iteration int, err error) error {
	span.RecordError(err)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.logger.InfoContext(ctx, "run interrupted, last checkpoint kept", "iteration", iteration, "error", err)

		return err
	}

	span.SetStatus(codes.Error, err.Error())
	r.logger.ErrorContext(ctx, "sampling failed, last checkpoint kept", "iteration", iteration, "error", err)

	return fmt.Errorf("advance from iteration %d: %w", iteration, err)
}

// appendLedger records an event. Ledger failures never stop the run.
func (r *Runner) appendLedger(ctx context.Context, event ledger.Event, summary batchSummary) {
	err := r.ledger.Append(ctx, ledger.Entry{
		RunID:            r.runID,
		Output:           r.output,
		Event:            event,
		Iteration:        summary.iteration,
		BurnedIn:         summary.burnIn.BurnedIn,
		BurnInIteration:  summary.burnIn.Iteration,
		EffectiveSamples: summary.effectiveSamples,
		ACL:              summary.acl,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "failed to append ledger entry", "event", string(event), "error", err)
	}
}

// currentACL measures the ACL after burn-in, or over the second half of the
// run before burn-in is reached.
func currentACL(s *sampler.RunState) float64 {
	from := s.Iteration / 2
	if s.BurnIn.BurnedIn {
		from = s.BurnIn.Iteration
	}

	acl := thinning.ACL(s, from)
	if math.IsInf(acl, 0) {
		return 0
	}

	return acl
}

func meanAcceptance(s *sampler.RunState) float64 {
	chains := s.PosteriorChains()
	fractions := make([]float64, len(chains))

	for i := range chains {
		fractions[i] = chains[i].AcceptanceFraction()
	}

	return stats.Mean(fractions)
}

func swapAcceptance(s *sampler.RunState) []float64 {
	out := make([]float64, len(s.SwapsProposed))

	for i, proposed := range s.SwapsProposed {
		if proposed > 0 {
			out[i] = float64(s.SwapsAccepted[i]) / float64(proposed)
		}
	}

	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}
