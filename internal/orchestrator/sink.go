package orchestrator

import "context"

// backlog runs mirror and publish calls on their own goroutine, so a slow
// sink never holds a worker slot or the collector. Tasks queued after ctx is
// done are dropped.
type backlog struct {
	tasks   chan func(context.Context)
	done    chan struct{}
	dropped int
}

// startBacklog starts the drain goroutine. size must cover every task of the
// run so that queueing never blocks.
func startBacklog(ctx context.Context, size int) *backlog {
	b := &backlog{
		tasks: make(chan func(context.Context), size),
		done:  make(chan struct{}),
	}

	go func() {
		defer close(b.done)
		for task := range b.tasks {
			if ctx.Err() != nil {
				b.dropped++
				continue
			}
			task(ctx)
		}
	}()

	return b
}

func (b *backlog) add(task func(context.Context)) {
	b.tasks <- task
}

// flush waits for every queued task and returns how many were dropped.
func (b *backlog) flush() int {
	close(b.tasks)
	<-b.done
	return b.dropped
}
