package queueprovider

import (
	"context"
	"fmt"
	"time"

	"github.com/knightpfhor/lokad-cloud/internal/azurequeue"
	"github.com/knightpfhor/lokad-cloud/internal/checkout"
	"github.com/knightpfhor/lokad-cloud/internal/envelope"
	"github.com/knightpfhor/lokad-cloud/internal/overflow"
	"github.com/knightpfhor/lokad-cloud/internal/retry"
)

// Go forbids type parameters on methods, so the typed surface of the
// provider lives here as free functions taking *Provider, the same shape
// spec.md's Get/Put/Delete/Abandon/Persist operations describe.

const defaultGetCount int32 = 1
const defaultVisibility = 30 * time.Second
const defaultMaxTrials int64 = 5

// GetOptions configures a Get/GetRange call. The zero value fetches one
// message with a 30s visibility timeout and a 5-trial poison ceiling.
type GetOptions struct {
	Count       int32
	Visibility  time.Duration
	MaxTrials   int64
	PoisonStore string
}

func (o GetOptions) withDefaults() GetOptions {
	if o.Count <= 0 {
		o.Count = defaultGetCount
	}
	if o.Visibility <= 0 {
		o.Visibility = defaultVisibility
	}
	if o.MaxTrials <= 0 {
		o.MaxTrials = defaultMaxTrials
	}
	return o
}

// Get fetches at most one message of type T from queue. ok is false if
// the queue was empty.
func Get[T any](ctx context.Context, p *Provider, queue string, opts GetOptions) (T, bool, error) {
	opts.Count = 1
	results, err := GetRange[T](ctx, p, queue, opts)
	var zero T
	if err != nil || len(results) == 0 {
		return zero, false, err
	}
	return results[0], true, nil
}

// GetRange fetches up to opts.Count messages of type T from queue,
// checking each one out so Delete/Abandon/Persist can later release it.
// Messages that fail to deserialize, or that have been dequeued more
// than opts.MaxTrials times, are diverted to the poison store instead of
// being returned (spec.md §4.1's Get algorithm).
func GetRange[T any](ctx context.Context, p *Provider, queue string, opts GetOptions) ([]T, error) {
	opts = opts.withDefaults()

	p.counters.Opened("Get")
	raws, err := retry.Get(ctx, p.transient, func(ctx context.Context) ([]azurequeue.RawMessage, error) {
		return p.queues.GetMessages(ctx, queue, opts.Count, opts.Visibility)
	})
	if err != nil {
		if retry.Classify(err) == retry.NotFound {
			p.counters.Closed("Get")
			return nil, nil
		}
		return nil, fmt.Errorf("queueprovider: getting messages from %s: %w", queue, err)
	}
	p.counters.Closed("Get")

	type pendingWrapper struct {
		wrapper    overflow.Wrapper
		wrapperKey string
	}

	var out []T
	var pending []pendingWrapper

	for _, raw := range raws {
		receipt := checkout.Receipt{ID: raw.ID, PopReceipt: raw.PopReceipt}
		bytes := raw.Bytes
		effectiveCount := raw.DequeueCount

		if env, ok := envelope.TryUnwrap(p.codec, bytes); ok {
			effectiveCount = env.DequeueCount + raw.DequeueCount
			bytes = env.RawMessage
		}

		if effectiveCount > opts.MaxTrials {
			reason := fmt.Sprintf("dequeued %d times but failed each time", effectiveCount-1)
			p.persistRaw(ctx, opts.PoisonStore, queue, raw.InsertionTime, effectiveCount, reason, bytes)
			if err := p.deleteRaw(ctx, queue, receipt); err != nil {
				return out, fmt.Errorf("queueprovider: deleting poisoned message from %s: %w", queue, err)
			}
			p.events.Publish(Event{Kind: MessagePoisoned, Queue: queue, Reason: reason})
			continue
		}

		var v T
		if derr := p.codec.TryDeserialize(bytes, &v); derr == nil {
			key := string(bytes)
			p.checkout.CheckOut(key, receipt, queue, false, effectiveCount, nil, raw.InsertionTime)
			out = append(out, v)
			p.events.Publish(Event{Kind: MessageGot, Queue: queue, ByteSize: len(bytes)})
			continue
		}

		if w, ok := p.overflow.TryUnwrap(bytes); ok {
			key := string(bytes)
			p.checkout.CheckOut(key, receipt, queue, true, effectiveCount, bytes, raw.InsertionTime)
			pending = append(pending, pendingWrapper{wrapper: w, wrapperKey: key})
			continue
		}

		reason := fmt.Sprintf("failed to deserialize (%s)", describeType[T]())
		p.persistRaw(ctx, opts.PoisonStore, queue, raw.InsertionTime, effectiveCount, reason, bytes)
		if err := p.deleteRaw(ctx, queue, receipt); err != nil {
			return out, fmt.Errorf("queueprovider: deleting poisoned message from %s: %w", queue, err)
		}
		p.events.Publish(Event{Kind: MessagePoisoned, Queue: queue, Reason: reason})
	}

	for _, pw := range pending {
		payload, existed, ferr := p.overflow.Fetch(ctx, pw.wrapper)
		if ferr != nil {
			return out, fmt.Errorf("queueprovider: fetching overflow blob for %s: %w", queue, ferr)
		}
		if !existed {
			// Orphaned wrapper: the blob it names is gone. Delete the raw
			// message and check it back in so disposal doesn't try to
			// abandon a payload that can never be fetched.
			if entry, receipt, ok := p.checkout.CheckIn(pw.wrapperKey); ok {
				_ = p.deleteRaw(ctx, queue, receipt)
				_ = entry
			}
			continue
		}

		var v T
		if derr := p.codec.TryDeserialize(payload, &v); derr != nil {
			reason := fmt.Sprintf("failed to deserialize overflow payload (%s)", describeType[T]())
			if entry, receipt, ok := p.checkout.CheckIn(pw.wrapperKey); ok {
				p.persistRaw(ctx, opts.PoisonStore, queue, entry.InsertionTime, entry.DequeueCount, reason, payload)
				_ = p.deleteRaw(ctx, queue, receipt)
				p.events.Publish(Event{Kind: MessagePoisoned, Queue: queue, Reason: reason})
			}
			continue
		}

		payloadKey := string(payload)
		p.checkout.CheckOutRelink(pw.wrapperKey, payloadKey)
		out = append(out, v)
		p.events.Publish(Event{Kind: MessageGot, Queue: queue, ByteSize: len(payload)})
	}

	return out, nil
}

func (p *Provider) persistRaw(ctx context.Context, store, queue string, insertedAt time.Time, dequeueCount int64, reason string, data []byte) {
	store = p.storeName(store)
	key, err := p.poison.Persist(ctx, store, queue, insertedAt, dequeueCount, reason, data)
	if err != nil {
		p.logger.Error(err, "queueprovider: failed to persist poisoned message", "queue", queue)
		return
	}
	p.events.Publish(Event{Kind: MessagePersisted, Queue: queue, Store: store, Key: key, Reason: reason})
}

// Put enqueues one message of type T onto queue, lazily creating the
// queue if it does not yet exist. Payloads too large for the Queue
// Service's message ceiling are transparently diverted through the
// overflow blob side-channel (spec.md §4.1's Put algorithm, §6).
func Put[T any](ctx context.Context, p *Provider, queue string, v T) error {
	return PutRange(ctx, p, queue, []T{v})
}

// PutRange enqueues every message in vs onto queue.
func PutRange[T any](ctx context.Context, p *Provider, queue string, vs []T) error {
	for _, v := range vs {
		p.counters.Opened("Put")
		bytes, err := p.codec.Serialize(v)
		if err != nil {
			return fmt.Errorf("queueprovider: serializing %s: %w", describeType[T](), err)
		}

		payload := bytes
		if int64(len(payload)) > p.threshold {
			wrapped, werr := p.overflow.Wrap(ctx, queue, bytes)
			if werr != nil {
				return fmt.Errorf("queueprovider: wrapping overflow payload: %w", werr)
			}
			payload = wrapped
		}

		if err := p.addWithAutoCreate(ctx, queue, payload); err != nil {
			if isMessageTooLarge(err) && int64(len(payload)) == int64(len(bytes)) {
				// The pre-check missed it (e.g. a custom MaxMessageSize
				// set too high): fall back to the overflow path.
				wrapped, werr := p.overflow.Wrap(ctx, queue, bytes)
				if werr != nil {
					return fmt.Errorf("queueprovider: wrapping overflow payload after rejection: %w", werr)
				}
				if err := p.addWithAutoCreate(ctx, queue, wrapped); err != nil {
					return fmt.Errorf("queueprovider: enqueueing overflow wrapper onto %s: %w", queue, err)
				}
				p.counters.Closed("Put")
				p.events.Publish(Event{Kind: MessagePut, Queue: queue, ByteSize: len(bytes)})
				continue
			}
			return fmt.Errorf("queueprovider: enqueueing onto %s: %w", queue, err)
		}
		p.counters.Closed("Put")
		p.events.Publish(Event{Kind: MessagePut, Queue: queue, ByteSize: len(bytes)})
	}
	return nil
}

// Delete releases a message previously returned by Get/GetRange,
// removing it (and its overflow blob, if any) permanently. ok is false
// if v was not currently checked out.
func Delete[T any](ctx context.Context, p *Provider, v T) (bool, error) {
	key, err := checkoutKey(p, v)
	if err != nil {
		return false, err
	}
	return p.deleteKey(ctx, key)
}

// DeleteRange deletes every message in vs, returning how many were
// actually checked out.
func DeleteRange[T any](ctx context.Context, p *Provider, vs []T) (int, error) {
	n := 0
	for _, v := range vs {
		ok, err := Delete(ctx, p, v)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Abandon releases a message previously returned by Get/GetRange back
// onto its originating queue, wrapped so its accumulated dequeue-count
// survives the round trip. ok is false if v was not currently checked
// out.
func Abandon[T any](ctx context.Context, p *Provider, v T) (bool, error) {
	key, err := checkoutKey(p, v)
	if err != nil {
		return false, err
	}
	return p.abandonKey(ctx, key)
}

// AbandonRange abandons every message in vs.
func AbandonRange[T any](ctx context.Context, p *Provider, vs []T) (int, error) {
	n := 0
	for _, v := range vs {
		ok, err := Abandon(ctx, p, v)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Persist moves a message previously returned by Get/GetRange into
// store (the default poison store if store is empty) with the given
// human-readable reason, permanently releasing it from its queue. ok is
// false if v was not currently checked out.
func Persist[T any](ctx context.Context, p *Provider, v T, store, reason string) (bool, error) {
	key, err := checkoutKey(p, v)
	if err != nil {
		return false, err
	}
	return p.persistKey(ctx, key, store, reason)
}

// checkoutKey re-serializes v to recover the value-equality key it was
// checked out under in Get/GetRange (spec.md §4.2: the checkout table is
// keyed by the payload's serialized bytes, not its receipt).
func checkoutKey[T any](p *Provider, v T) (string, error) {
	bytes, err := p.codec.Serialize(v)
	if err != nil {
		return "", fmt.Errorf("queueprovider: re-serializing %s for checkout lookup: %w", describeType[T](), err)
	}
	return string(bytes), nil
}
