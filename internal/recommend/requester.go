// Package recommend asks the reasoning service for one structured
// recommendation per significant cluster.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"insightpipe/internal/domain"

	"github.com/sirupsen/logrus"
)

type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Requester struct {
	client  Completer
	timeout time.Duration
	log     *logrus.Entry
}

func NewRequester(client Completer, timeout time.Duration, log *logrus.Entry) *Requester {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Requester{client: client, timeout: timeout, log: log.WithField("component", "recommend")}
}

// Request builds the prompt, calls the reasoning service under the configured
// timeout and validates the reply. Call failures wrap
// domain.ErrUpstreamUnavailable; invalid replies return *MalformedError.
func (r *Requester) Request(ctx context.Context, c domain.Cluster) (domain.Recommendation, error) {
	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	log := r.log.WithFields(logrus.Fields{"cluster_label": c.Label, "cluster_size": c.Size})
	start := time.Now()
	text, err := r.client.Complete(callCtx, BuildPrompt(c))
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			log.WithField("timeout", r.timeout.String()).Warn("reasoning call timed out")
			return domain.Recommendation{}, fmt.Errorf("reasoning call timed out after %s: %w", r.timeout, domain.ErrUpstreamUnavailable)
		}
		log.WithError(err).Warn("reasoning call failed")
		return domain.Recommendation{}, fmt.Errorf("reasoning call: %v: %w", err, domain.ErrUpstreamUnavailable)
	}

	rec, err := Parse(text)
	if err != nil {
		log.WithError(err).WithField("raw_response", text).Warn("reasoning reply rejected")
		return domain.Recommendation{}, err
	}
	log.WithFields(logrus.Fields{
		"impact":   rec.Impact,
		"urgency":  rec.Urgency,
		"duration": time.Since(start).Round(time.Millisecond).String(),
	}).Info("recommendation received")
	return rec, nil
}
