package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

type GuardOptions struct {
	// MaxElapsed bounds the retry loop. Zero disables retries.
	MaxElapsed      time.Duration
	InitialInterval time.Duration
	// RequestsPerSecond of zero means unlimited.
	RequestsPerSecond  float64
	MaxConcurrentCalls int
	Log                *logrus.Entry
}

// Guarded wraps a provider with a concurrency cap, a request rate limit and
// exponential retry of transient failures. The caller's context bounds all
// three.
type Guarded struct {
	next            Completer
	sem             *semaphore.Weighted
	limiter         *rate.Limiter
	maxElapsed      time.Duration
	initialInterval time.Duration
	log             *logrus.Entry
}

func NewGuarded(next Completer, opts GuardOptions) *Guarded {
	g := &Guarded{
		next:            next,
		maxElapsed:      opts.MaxElapsed,
		initialInterval: opts.InitialInterval,
		log:             opts.Log,
	}
	if g.log == nil {
		g.log = logrus.NewEntry(logrus.StandardLogger())
	}
	if g.initialInterval <= 0 {
		g.initialInterval = 500 * time.Millisecond
	}
	if opts.MaxConcurrentCalls > 0 {
		g.sem = semaphore.NewWeighted(int64(opts.MaxConcurrentCalls))
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return g
}

func (g *Guarded) Complete(ctx context.Context, prompt string) (string, error) {
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return "", err
		}
		defer g.sem.Release(1)
	}

	var text string
	attempt := 0
	op := func() error {
		attempt++
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		out, err := g.next.Complete(ctx, prompt)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && statusErr.Permanent() {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		text = out
		return nil
	}

	if g.maxElapsed <= 0 {
		if err := op(); err != nil {
			var permanent *backoff.PermanentError
			if errors.As(err, &permanent) {
				return "", permanent.Err
			}
			return "", err
		}
		return text, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.initialInterval
	b.MaxElapsedTime = g.maxElapsed
	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		g.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    wait.String(),
		}).Warn("llm call failed, retrying")
	})
	if err != nil {
		return "", err
	}
	return text, nil
}
