package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/filigrane/internal/model"
	"github.com/aliskhannn/filigrane/internal/watermark"
)

// Opener opens a local document for upload.
type Opener func(path string) (io.ReadCloser, error)

// OpenFile opens path on the local filesystem.
func OpenFile(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// process runs one job to a terminal state:
// created -> submitted -> processing -> done | failed.
func (o *Orchestrator) process(ctx context.Context, runID string, job *model.Job) {
	log := zlog.Logger.With().
		Str("run_id", runID).
		Str("job_id", job.ID.String()).
		Str("file", job.OutputName).
		Logger()

	fail := func(err error) {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", interruption(ctx), err)
		}
		job.Fail(err, o.opts.Clock.Now())
		log.Error().Err(err).Int("retries", job.Retries).Msg("job failed")
	}

	h, err := o.submit(ctx, job)
	if err != nil {
		fail(err)
		return
	}
	job.Token = h.Token
	job.Advance(model.JobSubmitted)
	log.Debug().Str("token", h.Token).Msg("job submitted")

	job.Advance(model.JobProcessing)
	if err := o.await(ctx, job, h); err != nil {
		fail(err)
		return
	}

	var data []byte
	err = o.attempt(ctx, job, "fetch", time.Time{}, func() error {
		var fetchErr error
		data, fetchErr = o.client.Fetch(ctx, h)
		return fetchErr
	})
	if err != nil {
		fail(err)
		return
	}

	path, err := o.fileStorage.Save(ctx, job.OutputName, bytes.NewReader(data))
	if err != nil {
		fail(err)
		return
	}
	job.ResultPath = path
	job.Bytes = int64(len(data))
	job.Complete(o.opts.Clock.Now())

	log.Info().Str("output", path).Int64("bytes", job.Bytes).Int("retries", job.Retries).Msg("job done")
}

// submit uploads every document of the job as one request. Only the handle of
// the successful attempt is kept.
func (o *Orchestrator) submit(ctx context.Context, job *model.Job) (watermark.Handle, error) {
	uploads := make([]watermark.Upload, 0, len(job.Documents))
	for _, d := range job.Documents {
		path := d.Path
		uploads = append(uploads, watermark.Upload{
			Name:        d.Name(),
			ContentType: d.Kind.ContentType(),
			Open:        func() (io.ReadCloser, error) { return o.opts.Open(path) },
		})
	}

	var h watermark.Handle
	err := o.attempt(ctx, job, "submit", time.Time{}, func() error {
		var submitErr error
		h, submitErr = o.client.Submit(ctx, uploads, o.opts.Watermark)
		return submitErr
	})
	return h, err
}

// await polls until the job is done, failed remotely or out of time. The wait
// between "processing" answers doubles up to the policy ceiling.
func (o *Orchestrator) await(ctx context.Context, job *model.Job, h watermark.Handle) error {
	p := o.opts.Poll
	interval := p.Interval
	deadline := o.opts.Clock.Now().Add(p.MaxWait)

	for {
		var st watermark.Status
		err := o.attempt(ctx, job, "poll", deadline, func() error {
			var pollErr error
			st, pollErr = o.client.Poll(ctx, h)
			return pollErr
		})
		if err != nil {
			return err
		}

		switch st.State {
		case watermark.StateDone:
			job.ResultURL = st.URL
			return nil
		case watermark.StateFailed:
			return fmt.Errorf("poll: %w: %s", ErrRemoteFailed, st.Reason)
		}

		now := o.opts.Clock.Now()
		if !now.Before(deadline) {
			return fmt.Errorf("poll: %w after %s", ErrPollTimeout, p.MaxWait)
		}

		wait := interval
		if left := deadline.Sub(now); wait > left {
			wait = left
		}
		if err := o.opts.Clock.Sleep(ctx, wait); err != nil {
			return fmt.Errorf("poll: %w", err)
		}

		interval *= 2
		if p.MaxInterval > 0 && interval > p.MaxInterval {
			interval = p.MaxInterval
		}
	}
}

// attempt calls fn until it succeeds or fails with a non-transient error.
// Transient failures are retried with the run's strategy: Attempts total
// calls, spaced by Delay multiplied by Backoff after each retry. A non-zero
// deadline bounds the retry waits; once it has passed the phase fails with
// ErrPollTimeout.
func (o *Orchestrator) attempt(ctx context.Context, job *model.Job, phase string, deadline time.Time, fn func() error) error {
	s := o.opts.Retry
	delay := s.Delay

	for n := 1; ; n++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !watermark.IsRetryable(err) {
			return fmt.Errorf("%s: %w", phase, err)
		}
		if n >= s.Attempts {
			return fmt.Errorf("%s: %w after %d attempts: %v", phase, ErrExhaustedRetries, n, err)
		}

		wait := delay
		if !deadline.IsZero() {
			left := deadline.Sub(o.opts.Clock.Now())
			if left <= 0 {
				return fmt.Errorf("%s: %w: %v", phase, ErrPollTimeout, err)
			}
			wait = min(wait, left)
		}

		job.Retries++
		zlog.Logger.Warn().Err(err).
			Str("job_id", job.ID.String()).
			Str("file", job.OutputName).
			Str("phase", phase).
			Int("attempt", n).
			Dur("delay", wait).
			Msg("transient failure, retrying")

		if err := o.opts.Clock.Sleep(ctx, wait); err != nil {
			return fmt.Errorf("%s: %w", phase, err)
		}
		delay = nextDelay(delay, s.Backoff)
	}
}

func nextDelay(d time.Duration, backoff float64) time.Duration {
	if backoff <= 1 {
		return d
	}
	return time.Duration(float64(d) * backoff)
}
