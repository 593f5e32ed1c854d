// Package queueprovider implements the transactional queue provider: a
// typed, reliable, at-least-once messaging API layered over a raw queue
// service and a raw blob service. See spec.md §1 and §4.1 for the public
// contract this package implements.
package queueprovider

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/go-logr/logr"

	"github.com/knightpfhor/lokad-cloud/internal/azureblob"
	"github.com/knightpfhor/lokad-cloud/internal/azurequeue"
	"github.com/knightpfhor/lokad-cloud/internal/checkout"
	"github.com/knightpfhor/lokad-cloud/internal/codec"
	"github.com/knightpfhor/lokad-cloud/internal/envelope"
	"github.com/knightpfhor/lokad-cloud/internal/overflow"
	"github.com/knightpfhor/lokad-cloud/internal/poison"
	"github.com/knightpfhor/lokad-cloud/internal/retry"
)

// Provider is the Queue Provider of spec.md §4.1: List/Get/Put/Delete/
// Abandon/Persist/Clear over a typed messaging API, documented safe for
// concurrent use from any number of goroutines (spec.md §5).
type Provider struct {
	queues azurequeue.Service
	blobs  azureblob.Service

	overflow *overflow.Handler
	poison   *poison.Store
	codec    codec.Serializer
	logger   logr.Logger
	counters Counters
	events   *Subject

	maxMessageSize     int64
	threshold          int64
	defaultPoisonStore string

	transient *retry.Policy
	slow      *retry.Policy

	checkout *checkout.Table[string]
}

// New builds a Provider over queues and blobs. The zero-value options
// give a YAML serializer, a discarding logger, a no-op Counters, and the
// 64 KiB Azure Queue message ceiling.
func New(queues azurequeue.Service, blobs azureblob.Service, opts ...Option) *Provider {
	p := &Provider{
		queues:         queues,
		blobs:          blobs,
		codec:          codec.YAMLSerializer{},
		logger:         logr.Discard(),
		counters:       noopCounters{},
		events:         NewSubject(),
		maxMessageSize: defaultMaxMessageSize,
		transient:      retry.TransientServerErrorBackoff(),
		slow:           retry.SlowInstantiation(),
		checkout:       checkout.New[string](),
	}
	applyOptions(p, opts)
	p.overflow = overflow.New(p.blobs, p.codec)
	p.poison = poison.New(p.blobs, p.codec, p.overflow)

	// Ensure the containers the overflow and poison stores write into
	// exist up front, rather than surfacing a ContainerNotFound on the
	// first oversize Put or the first persisted message.
	ctx := context.Background()
	if err := p.blobs.EnsureContainer(ctx, overflow.ContainerName); err != nil {
		p.logger.Error(err, "queueprovider: failed to ensure overflow container exists")
	}
	if err := p.blobs.EnsureContainer(ctx, poison.ContainerName); err != nil {
		p.logger.Error(err, "queueprovider: failed to ensure persisted-message container exists")
	}
	return p
}

// Events returns the Subject that publishes the provider's lifecycle
// events (spec.md §9's Observer subject note).
func (p *Provider) Events() *Subject { return p.events }

// List returns the names of every queue whose name starts with prefix.
func (p *Provider) List(ctx context.Context, prefix string) ([]string, error) {
	names, err := retry.Get(ctx, p.transient, func(ctx context.Context) ([]string, error) {
		return p.queues.ListQueues(ctx, prefix)
	})
	if err != nil {
		return nil, fmt.Errorf("queueprovider: listing queues: %w", err)
	}
	return names, nil
}

// ApproximateCount reports the queue's server-side approximate message
// count, or 0 with no error if the queue does not exist.
func (p *Provider) ApproximateCount(ctx context.Context, queue string) (int64, error) {
	n, err := retry.Get(ctx, p.transient, func(ctx context.Context) (int64, error) {
		return p.queues.ApproximateCount(ctx, queue)
	})
	if err != nil {
		if retry.Classify(err) == retry.NotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("queueprovider: approximate count for %s: %w", queue, err)
	}
	return n, nil
}

// ApproximateLatency estimates how long the oldest visible message on
// queue has been waiting, derived from a single PeekMessages call
// (spec.md's table names this operation but gives it no algorithm; this
// is the single-call shape the teacher's own queue-depth metrics use).
func (p *Provider) ApproximateLatency(ctx context.Context, queue string) (time.Duration, error) {
	msgs, err := retry.Get(ctx, p.transient, func(ctx context.Context) ([]azurequeue.RawMessage, error) {
		return p.queues.PeekMessages(ctx, queue, 1)
	})
	if err != nil {
		if retry.Classify(err) == retry.NotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("queueprovider: approximate latency for %s: %w", queue, err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	return time.Since(msgs[0].InsertionTime), nil
}

// Clear deletes every queued message and every overflow blob for queue.
// Overflow blobs are removed first so a concurrent reader never observes
// a wrapper pointing at a missing blob (spec.md §4.1).
func (p *Provider) Clear(ctx context.Context, queue string) error {
	if err := p.overflow.ClearQueue(ctx, queue); err != nil {
		return fmt.Errorf("queueprovider: clearing overflow blobs for %s: %w", queue, err)
	}
	err := p.transient.Do(ctx, func(ctx context.Context) error {
		return p.queues.Clear(ctx, queue)
	})
	if err != nil {
		if retry.Classify(err) == retry.NotFound {
			return nil
		}
		return fmt.Errorf("queueprovider: clearing %s: %w", queue, err)
	}
	return nil
}

// DeleteQueue deletes queue and its overflow blobs. ok is false if the
// queue did not exist.
func (p *Provider) DeleteQueue(ctx context.Context, queue string) (bool, error) {
	if err := p.overflow.ClearQueue(ctx, queue); err != nil {
		return false, fmt.Errorf("queueprovider: clearing overflow blobs for %s: %w", queue, err)
	}
	err := p.transient.Do(ctx, func(ctx context.Context) error {
		return p.queues.DeleteQueue(ctx, queue)
	})
	if err != nil {
		if retry.Classify(err) == retry.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("queueprovider: deleting queue %s: %w", queue, err)
	}
	return true, nil
}

// ListPersisted returns the keys of every record in store.
func (p *Provider) ListPersisted(ctx context.Context, store string) ([]string, error) {
	keys, err := p.poison.List(ctx, p.storeName(store))
	if err != nil {
		return nil, fmt.Errorf("queueprovider: listing persisted messages in %s: %w", store, err)
	}
	return keys, nil
}

// PersistedMessage is the projection GetPersisted returns: spec.md §4.1's
// {queue, times, dequeue-count, reason, payloadXml?, restorable} tuple.
type PersistedMessage struct {
	QueueName       string
	InsertionTime   time.Time
	PersistenceTime time.Time
	DequeueCount    int64
	Reason          string
	PayloadXML      string
	HasPayloadXML   bool
	Restorable      bool
}

// GetPersisted fetches the record at key in store.
func (p *Provider) GetPersisted(ctx context.Context, store, key string) (PersistedMessage, bool, error) {
	res, ok, err := p.poison.Get(ctx, p.storeName(store), key)
	if err != nil {
		return PersistedMessage{}, false, fmt.Errorf("queueprovider: getting persisted message %s/%s: %w", store, key, err)
	}
	if !ok {
		return PersistedMessage{}, false, nil
	}
	return PersistedMessage{
		QueueName:       res.Record.QueueName,
		InsertionTime:   res.Record.InsertionTime,
		PersistenceTime: res.Record.PersistenceTime,
		DequeueCount:    res.Record.DequeueCount,
		Reason:          res.Record.Reason,
		PayloadXML:      res.PayloadXML,
		HasPayloadXML:   res.HasXML,
		Restorable:      res.IsDataAvailable,
	}, true, nil
}

// DeletePersisted deletes the record at key in store, and its overflow
// blob, if any.
func (p *Provider) DeletePersisted(ctx context.Context, store, key string) error {
	if err := p.poison.Delete(ctx, p.storeName(store), key); err != nil {
		return fmt.Errorf("queueprovider: deleting persisted message %s/%s: %w", store, key, err)
	}
	return nil
}

// RestorePersisted puts the record's raw bytes back onto the originating
// queue verbatim (no envelope), then deletes the record.
func (p *Provider) RestorePersisted(ctx context.Context, store, key string) error {
	queue, raw, err := p.poison.Restore(ctx, p.storeName(store), key)
	if err != nil {
		return fmt.Errorf("queueprovider: restoring persisted message %s/%s: %w", store, key, err)
	}
	if err := p.addWithAutoCreate(ctx, queue, raw); err != nil {
		return fmt.Errorf("queueprovider: re-enqueueing restored message onto %s: %w", queue, err)
	}
	return nil
}

func (p *Provider) storeName(store string) string {
	if store == "" {
		return p.defaultPoisonStore
	}
	return store
}

// Close snapshots every still-checked-out payload and best-effort
// abandons each of them, per spec.md §5/§9's disposal contract. Callers
// must invoke Close when done with the provider; there is no finalizer.
func (p *Provider) Close(ctx context.Context) error {
	var firstErr error
	for _, key := range p.checkout.Snapshot() {
		if _, err := p.abandonKey(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// deleteKey deletes the raw message and, if overflowing, its blob, for
// the checkout entry under key. ok is false if key was not checked out.
func (p *Provider) deleteKey(ctx context.Context, key string) (bool, error) {
	entry, receipt, ok := p.checkout.CheckIn(key)
	if !ok {
		return false, nil
	}
	p.counters.Opened("Delete")
	if entry.IsOverflowing {
		p.overflow.DeleteWrapped(ctx, entry.WrapperBytes)
	}
	if err := p.deleteRaw(ctx, entry.QueueName, receipt); err != nil {
		return false, fmt.Errorf("deleting message from %s: %w", entry.QueueName, err)
	}
	p.counters.Closed("Delete")
	p.events.Publish(Event{Kind: MessageDeleted, Queue: entry.QueueName})
	return true, nil
}

// abandonKey re-enqueues the checkout entry under key, wrapped in an
// Envelope carrying its accumulated dequeue-count, then deletes the old
// raw message. See spec.md §4.1's Abandon algorithm.
func (p *Provider) abandonKey(ctx context.Context, key string) (bool, error) {
	entry, receipt, ok := p.checkout.CheckIn(key)
	if !ok {
		return false, nil
	}
	p.counters.Opened("Abandon")

	// The payload's own serialized bytes are exactly `key`: that is how
	// it was checked out in Get (see checkoutKey).
	raw := []byte(key)
	if entry.IsOverflowing {
		raw = entry.WrapperBytes
	}

	envBytes, err := envelope.Wrap(p.codec, entry.DequeueCount, raw)
	if err != nil {
		return false, fmt.Errorf("building abandon envelope: %w", err)
	}

	if int64(len(envBytes)) > p.threshold {
		// The envelope itself overflows: re-wrap the ORIGINAL payload
		// (not the wrapper already on entry), per spec.md §4.1. This can
		// leave the earlier overflow blob as an orphan if entry was
		// already overflowing; Clear/DeleteQueue bulk-reclaim it
		// (spec.md §5).
		wrapped, werr := p.overflow.Wrap(ctx, entry.QueueName, []byte(key))
		if werr != nil {
			return false, fmt.Errorf("wrapping abandoned overflow payload: %w", werr)
		}
		envBytes, err = envelope.Wrap(p.codec, entry.DequeueCount, wrapped)
		if err != nil {
			return false, fmt.Errorf("building abandon envelope: %w", err)
		}
	}

	if err := p.addWithAutoCreate(ctx, entry.QueueName, envBytes); err != nil {
		return false, fmt.Errorf("re-enqueueing abandoned message onto %s: %w", entry.QueueName, err)
	}
	if err := p.deleteRaw(ctx, entry.QueueName, receipt); err != nil {
		return false, fmt.Errorf("deleting old message from %s: %w", entry.QueueName, err)
	}
	p.counters.Closed("Abandon")
	p.events.Publish(Event{Kind: MessageAbandoned, Queue: entry.QueueName})
	return true, nil
}

// persistKey moves the checkout entry under key to the poison store.
func (p *Provider) persistKey(ctx context.Context, key, store, reason string) (bool, error) {
	entry, receipt, ok := p.checkout.CheckIn(key)
	if !ok {
		return false, nil
	}
	p.counters.Opened("Persist")

	data := []byte(key)
	if entry.IsOverflowing {
		data = entry.WrapperBytes
	}

	store = p.storeName(store)
	persistedKey, err := p.poison.Persist(ctx, store, entry.QueueName, entry.InsertionTime, entry.DequeueCount, reason, data)
	if err != nil {
		return false, fmt.Errorf("persisting message: %w", err)
	}
	p.events.Publish(Event{Kind: MessagePersisted, Queue: entry.QueueName, Store: store, Key: persistedKey, Reason: reason})

	if err := p.deleteRaw(ctx, entry.QueueName, receipt); err != nil {
		return false, fmt.Errorf("deleting persisted message from %s: %w", entry.QueueName, err)
	}
	p.counters.Closed("Persist")
	return true, nil
}

func (p *Provider) deleteRaw(ctx context.Context, queue string, r checkout.Receipt) error {
	return p.transient.Do(ctx, func(ctx context.Context) error {
		err := p.queues.DeleteMessage(ctx, queue, r.ID, r.PopReceipt)
		if err != nil && retry.Classify(err) == retry.NotFound {
			return nil
		}
		return err
	})
}

// addWithAutoCreate enqueues bytes onto queue, lazily creating the queue
// and retrying once via the SlowInstantiation policy if it did not exist
// (spec.md §4.1's Put algorithm, §7's ResourceNotFound-on-put case).
func (p *Provider) addWithAutoCreate(ctx context.Context, queue string, bytes []byte) error {
	err := p.transient.Do(ctx, func(ctx context.Context) error {
		return p.queues.AddMessage(ctx, queue, bytes, 0)
	})
	if err == nil {
		return nil
	}
	if retry.Classify(err) != retry.NotFound {
		return err
	}

	if createErr := p.slow.Do(ctx, func(ctx context.Context) error {
		return p.queues.Create(ctx, queue)
	}); createErr != nil {
		return fmt.Errorf("creating queue: %w", createErr)
	}

	return p.slow.Do(ctx, func(ctx context.Context) error {
		return p.queues.AddMessage(ctx, queue, bytes, 0)
	})
}

// isMessageTooLarge reports whether err is the Queue Service rejecting a
// message on size grounds at construction time, the second trigger
// (alongside the pre-check) for the overflow path in spec.md §4.1's Put
// algorithm.
func isMessageTooLarge(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 400 && (respErr.ErrorCode == "RequestBodyTooLarge" || respErr.ErrorCode == "MessageTooLarge" || respErr.ErrorCode == "OutOfRangeInput")
	}
	return false
}

func describeType[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
