// Package orchestrator drives documents through the remote watermarking
// service: it groups them into jobs, runs the jobs on a bounded worker pool
// and collects one outcome per document.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/aliskhannn/filigrane/internal/model"
	"github.com/aliskhannn/filigrane/internal/watermark"
)

// client is the watermarking service contract.
type client interface {
	Submit(ctx context.Context, files []watermark.Upload, text string) (watermark.Handle, error)
	Poll(ctx context.Context, h watermark.Handle) (watermark.Status, error)
	Fetch(ctx context.Context, h watermark.Handle) ([]byte, error)
}

// fileStorage writes watermarked results and returns where they were stored.
type fileStorage interface {
	Save(ctx context.Context, name string, src io.Reader) (string, error)
}

// mirror copies a written output to secondary storage.
type mirror interface {
	Mirror(ctx context.Context, runID, name, path string) error
}

// publisher emits one event per document outcome.
type publisher interface {
	Publish(ctx context.Context, runID string, o model.Outcome) error
}

// PollPolicy bounds how a job is awaited: the interval starts at Interval,
// doubles after every "processing" answer up to MaxInterval, and the job is
// given up after MaxWait.
type PollPolicy struct {
	Interval    time.Duration
	MaxInterval time.Duration
	MaxWait     time.Duration
}

// Options configures a run.
type Options struct {
	Mode            model.Mode
	Watermark       string
	AggregateOutput string // output name of the single aggregated job
	Concurrency     int
	Timeout         time.Duration // 0 disables the run-level timeout
	Poll            PollPolicy
	Retry           retry.Strategy // Attempts counts total attempts per phase
	Clock           Clock          // defaults to SystemClock
	Open            Opener         // defaults to OpenFile
}

// Orchestrator runs batches of documents against the watermarking service.
type Orchestrator struct {
	client      client
	fileStorage fileStorage
	mirror      mirror
	publisher   publisher
	opts        Options
}

// New creates an Orchestrator. Mirror and publisher are optional, see
// WithMirror and WithPublisher.
func New(c client, fs fileStorage, opts Options) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Retry.Attempts < 1 {
		opts.Retry.Attempts = 1
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Open == nil {
		opts.Open = OpenFile
	}
	if opts.Mode == "" {
		opts.Mode = model.ModeIndividual
	}

	return &Orchestrator{client: c, fileStorage: fs, opts: opts}
}

// WithMirror copies every written output with m.
func (o *Orchestrator) WithMirror(m mirror) *Orchestrator {
	o.mirror = m
	return o
}

// WithPublisher publishes every outcome with p.
func (o *Orchestrator) WithPublisher(p publisher) *Orchestrator {
	o.publisher = p
	return o
}

// Run processes docs and returns one outcome per document. skipped is carried
// into the result unchanged. Per-document failures never abort the run.
func (o *Orchestrator) Run(ctx context.Context, docs []model.Document, skipped []model.Skip) model.BatchResult {
	runID := uuid.New().String()
	jobs := o.plan(docs)

	zlog.Logger.Info().
		Str("run_id", runID).
		Str("mode", string(o.opts.Mode)).
		Int("documents", len(docs)).
		Int("jobs", len(jobs)).
		Int("concurrency", o.opts.Concurrency).
		Msg("starting run")

	runCtx, cancel := o.runContext(ctx)
	defer cancel()

	// Every outcome and every mirror fits in the buffers, so neither a worker
	// nor the collector ever waits on a sink.
	side := startBacklog(ctx, len(docs)+len(jobs))
	results := make(chan model.Outcome, len(docs))
	collected := make(chan []model.Outcome, 1)
	go o.collect(runID, len(docs), results, side, collected)

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)

	for _, job := range jobs {
		job := job
		// Stop submitting once the run is over; the remaining documents are
		// reported without touching the service.
		if runCtx.Err() != nil {
			o.abandon(runCtx, job, "submit")
			send(results, o.outcomes(job))
			continue
		}

		g.Go(func() error {
			if runCtx.Err() != nil {
				o.abandon(runCtx, job, "submit")
			} else {
				o.process(runCtx, runID, job)
			}
			if job.Status == model.JobDone && o.mirror != nil {
				o.queueMirror(side, runID, job)
			}
			send(results, o.outcomes(job))
			return nil
		})
	}

	_ = g.Wait()
	close(results)

	res := model.BatchResult{
		RunID:    runID,
		Mode:     o.opts.Mode,
		Outcomes: <-collected,
		Skipped:  skipped,
	}
	res.Sort()

	if dropped := side.flush(); dropped > 0 {
		zlog.Logger.Warn().
			Str("run_id", runID).
			Int("dropped", dropped).
			Msg("run interrupted, pending mirror and publish calls dropped")
	}

	zlog.Logger.Info().
		Str("run_id", runID).
		Int("succeeded", len(res.Succeeded())).
		Int("failed", len(res.Failed())).
		Int("skipped", len(res.Skipped)).
		Msg("run finished")

	return res
}

// plan groups documents into jobs according to the mode.
func (o *Orchestrator) plan(docs []model.Document) []*model.Job {
	if len(docs) == 0 {
		return nil
	}

	now := o.opts.Clock.Now()

	if o.opts.Mode == model.ModeAggregated {
		return []*model.Job{model.NewJob(docs, o.opts.AggregateOutput, now)}
	}

	jobs := make([]*model.Job, 0, len(docs))
	for _, d := range docs {
		jobs = append(jobs, model.NewJob([]model.Document{d}, d.OutputName, now))
	}
	return jobs
}

// runContext derives the run context, bounded by the run-level timeout when set.
func (o *Orchestrator) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.Timeout > 0 {
		return context.WithTimeoutCause(ctx, o.opts.Timeout, ErrRunTimeout)
	}
	return context.WithCancel(ctx)
}

// interruption returns the error recorded for work cut short by the end of the run.
func interruption(ctx context.Context) error {
	if errors.Is(context.Cause(ctx), ErrRunTimeout) {
		return ErrRunTimeout
	}
	return ErrCanceled
}

// abandon fails a job cut short by the end of the run.
func (o *Orchestrator) abandon(ctx context.Context, job *model.Job, phase string) {
	job.Fail(fmt.Errorf("%s: %w", phase, interruption(ctx)), o.opts.Clock.Now())
}

// collect is the single owner of the outcomes. It logs progress and queues
// every outcome for publishing, then hands the full list back on done.
func (o *Orchestrator) collect(runID string, total int, results <-chan model.Outcome, side *backlog, done chan<- []model.Outcome) {
	outcomes := make([]model.Outcome, 0, total)

	for out := range results {
		out := out
		outcomes = append(outcomes, out)

		var ev *zerolog.Event
		if out.Succeeded() {
			ev = zlog.Logger.Info()
		} else {
			ev = zlog.Logger.Warn().Str("reason", out.Reason())
		}
		ev.Str("run_id", runID).
			Str("job_id", out.JobID).
			Str("file", out.Document.RelPath).
			Str("status", string(out.Status)).
			Msgf("%d/%d", len(outcomes), total)

		if o.publisher != nil {
			side.add(func(ctx context.Context) {
				if err := o.publisher.Publish(ctx, runID, out); err != nil {
					zlog.Logger.Warn().Err(err).
						Str("run_id", runID).
						Str("file", out.Document.RelPath).
						Msg("failed to publish outcome")
				}
			})
		}
	}

	done <- outcomes
}

// queueMirror schedules the copy of a written output.
func (o *Orchestrator) queueMirror(side *backlog, runID string, job *model.Job) {
	name, path := job.OutputName, job.ResultPath
	side.add(func(ctx context.Context) {
		if err := o.mirror.Mirror(ctx, runID, name, path); err != nil {
			zlog.Logger.Warn().Err(err).
				Str("run_id", runID).
				Str("job_id", job.ID.String()).
				Str("file", name).
				Msg("failed to mirror output")
		}
	})
}

// outcomes expands a finished job into one outcome per document.
func (o *Orchestrator) outcomes(job *model.Job) []model.Outcome {
	out := make([]model.Outcome, 0, len(job.Documents))

	for _, d := range job.Documents {
		oc := model.Outcome{
			Document:   d,
			JobID:      job.ID.String(),
			FinishedAt: job.FinishedAt,
		}

		if job.Status == model.JobDone {
			oc.Status = model.DocDone
			oc.OutputPath = job.ResultPath
			oc.Bytes = job.Bytes
		} else {
			oc.Status = model.DocFailed
			oc.Err = job.Err
			if oc.Err == nil {
				oc.Err = errors.New("job did not finish")
			}
		}
		oc.Document.Status = oc.Status

		out = append(out, oc)
	}

	return out
}

func send(results chan<- model.Outcome, outcomes []model.Outcome) {
	for _, oc := range outcomes {
		results <- oc
	}
}
