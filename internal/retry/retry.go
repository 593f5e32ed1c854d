// Package retry classifies remote-call failures and supplies the two
// named back-off policies the provider runs its Queue Service calls
// through. Blob Service calls made by the overflow handler and the
// poison store are not run through these policies and are not retried.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/cenkalti/backoff/v4"
)

// Classification is the outcome of inspecting an error returned by the
// Queue or Blob service.
type Classification int

const (
	// Terminal errors are propagated verbatim to the caller.
	Terminal Classification = iota
	// Transient errors are retried with back-off.
	Transient
	// NotFound means the target resource does not exist; call sites
	// decide whether that is a no-op or a reason to lazily create it.
	NotFound
)

// Classify inspects err and returns how the retry policy should treat it.
func Classify(err error) Classification {
	if err == nil {
		return Terminal
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 404:
			return NotFound
		}
		switch respErr.ErrorCode {
		case "QueueNotFound", "BlobNotFound", "ContainerNotFound", "ResourceNotFound":
			return NotFound
		}
		if respErr.StatusCode >= 500 {
			return Transient
		}
		return Terminal
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Transient
		}
	}

	return Terminal
}

// Policy wraps an action in a named back-off schedule and retries only
// on Transient classifications.
type Policy struct {
	name    string
	newBack func() backoff.BackOff
}

// TransientServerErrorBackoff is a short, bounded exponential back-off
// meant for ordinary queue/blob calls: HTTP 5xx, socket faults, timeouts.
func TransientServerErrorBackoff() *Policy {
	return &Policy{
		name: "transient-server-error-backoff",
		newBack: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

// SlowInstantiation is a long, patient retry for eventual-consistency
// windows such as "queue was just created, not yet available".
func SlowInstantiation() *Policy {
	return &Policy{
		name: "slow-instantiation",
		newBack: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 1 * time.Second
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 60 * time.Second
			return b
		},
	}
}

// Name identifies the policy for logging.
func (p *Policy) Name() string { return p.name }

// Do runs action, retrying on Transient errors per the policy's schedule.
// NotFound and Terminal classifications are returned immediately so the
// caller can apply its own call-site-specific handling.
func (p *Policy) Do(ctx context.Context, action func(ctx context.Context) error) error {
	_, err := Get(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, action(ctx)
	})
	return err
}

// Get runs action, retrying on Transient errors, and returns its value.
func Get[T any](ctx context.Context, p *Policy, action func(ctx context.Context) (T, error)) (T, error) {
	var result T
	op := func() error {
		v, err := action(ctx)
		if err == nil {
			result = v
			return nil
		}
		switch Classify(err) {
		case Transient:
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	b := backoff.WithContext(p.newBack(), ctx)
	if err := backoff.Retry(op, b); err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return result, errors.Unwrap(err)
		}
		return result, err
	}
	return result, nil
}
