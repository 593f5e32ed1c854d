package queueprovider

import (
	"github.com/go-logr/logr"

	"github.com/knightpfhor/lokad-cloud/internal/codec"
	"github.com/knightpfhor/lokad-cloud/internal/overflow"
	"github.com/knightpfhor/lokad-cloud/internal/poison"
)

// defaultMaxMessageSize is the Azure Queue service's advertised
// per-message ceiling (64 KiB of base64 text), per spec.md §6.
const defaultMaxMessageSize int64 = 64 * 1024

// Option configures a Provider at construction time. The teacher's
// scaler constructors take a single flat config struct; a library with
// this many optional knobs (serializer, logger, thresholds, counters)
// reaches for functional options instead, the idiom used elsewhere in
// the retrieved pack (e.g. go.bryk.io/pkg's constructors).
type Option func(*Provider)

// WithLogger sets the logger every collaborator logs through. Defaults
// to logr.Discard().
func WithLogger(l logr.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithSerializer overrides the default YAML serializer.
func WithSerializer(s codec.Serializer) Option {
	return func(p *Provider) { p.codec = s }
}

// WithMaxMessageSize overrides the queue service's advertised per-message
// byte ceiling used to compute the overflow threshold.
func WithMaxMessageSize(n int64) Option {
	return func(p *Provider) { p.maxMessageSize = n }
}

// WithPoisonStoreDefault overrides the poison store name used when a
// call site passes an empty store name. Defaults to
// poison.DefaultStoreName ("failing-messages").
func WithPoisonStoreDefault(name string) Option {
	return func(p *Provider) { p.defaultPoisonStore = name }
}

// WithCounters installs an observability Counters implementation.
// Defaults to a no-op.
func WithCounters(c Counters) Option {
	return func(p *Provider) { p.counters = c }
}

func applyOptions(p *Provider, opts []Option) {
	for _, o := range opts {
		o(p)
	}
	p.threshold = overflow.Threshold(p.maxMessageSize)
	if p.defaultPoisonStore == "" {
		p.defaultPoisonStore = poison.DefaultStoreName
	}
}
