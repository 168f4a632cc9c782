package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxErrorDelay caps how far polling slows down while ProcessJobs keeps failing.
const maxErrorDelay = time.Minute

type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker polls a JobProcessor until stopped. A failing poll (usually the
// database being away) pushes the next one out exponentially; the first
// success restores the normal interval.
type Worker struct {
	processor    JobProcessor
	pollInterval time.Duration
	errBackOff   *backoff.ExponentialBackOff

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewWorker(processor JobProcessor, pollInterval time.Duration) *Worker {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = pollInterval
	b.MaxInterval = max(maxErrorDelay, pollInterval)
	b.MaxElapsedTime = 0
	b.Reset()

	return &Worker{
		processor:    processor,
		pollInterval: pollInterval,
		errBackOff:   b,
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start runs the polling loop and blocks until ctx ends or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	log.Printf("worker: polling every %v", w.pollInterval)
	for {
		select {
		case <-ctx.Done():
			log.Println("worker: context cancelled")
			return
		case <-w.stop:
			return
		case <-timer.C:
		case <-w.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		timer.Reset(w.poll(ctx))
	}
}

// poll runs one round and returns the delay before the next.
func (w *Worker) poll(ctx context.Context) time.Duration {
	if err := w.processor.ProcessJobs(ctx); err != nil {
		delay := w.errBackOff.NextBackOff()
		log.Printf("worker: poll failed, next attempt in %v: %v", delay, err)
		return delay
	}
	w.errBackOff.Reset()
	return w.pollInterval
}

// Wake triggers a poll without waiting for the timer. It never blocks;
// wakes that arrive while one is pending are merged.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stop ends the loop, cancels the round in flight and waits for it to
// return. Start must have been called.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
	log.Println("worker: stopped")
}
