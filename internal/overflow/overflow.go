// Package overflow implements the side-channel that stores message
// payloads too large for the Queue Service's per-message byte ceiling.
// See spec.md §3 (Message Wrapper, Overflow Blob) and §6 (fixed container
// name, key shape, size threshold formula).
package overflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/knightpfhor/lokad-cloud/internal/azureblob"
	"github.com/knightpfhor/lokad-cloud/internal/codec"
)

// ContainerName is the fixed, compatibility-critical container overflow
// blobs live in.
const ContainerName = "lokad-cloud-overflowing-messages"

// Wrapper is the internal wire format marking an overflow message: it
// points at the blob holding the real payload.
type Wrapper struct {
	ContainerName string `yaml:"containerName" json:"containerName"`
	BlobName      string `yaml:"blobName" json:"blobName"`
}

// Handler wraps/unwraps oversize payloads into overflow blobs.
type Handler struct {
	blobs azureblob.Service
	codec codec.Serializer
}

// New builds a Handler over blobs using codec s to serialize Wrappers.
func New(blobs azureblob.Service, s codec.Serializer) *Handler {
	return &Handler{blobs: blobs, codec: s}
}

// Threshold returns the largest serialized payload size, in bytes, that
// can go on the queue directly: (maxMessageSize-1)*3/4, the base-64
// expansion inverted, per spec.md §6.
func Threshold(maxMessageSize int64) int64 {
	return (maxMessageSize - 1) * 3 / 4
}

// Wrap stores payload as an overflow blob under
// lokad-cloud-overflowing-messages/{queue}/{uuid} and returns the
// serialized Wrapper that should be enqueued in its place.
func (h *Handler) Wrap(ctx context.Context, queue string, payload []byte) ([]byte, error) {
	name := fmt.Sprintf("%s/%s", queue, uuid.NewString())
	if err := h.blobs.Put(ctx, ContainerName, name, payload); err != nil {
		return nil, fmt.Errorf("overflow: storing blob: %w", err)
	}
	return h.codec.Serialize(Wrapper{ContainerName: ContainerName, BlobName: name})
}

// TryUnwrap attempts to decode data as a Wrapper. ok is false if data is
// not shaped like one.
func (h *Handler) TryUnwrap(data []byte) (w Wrapper, ok bool) {
	var wrapper Wrapper
	if err := h.codec.TryDeserialize(data, &wrapper); err != nil {
		return Wrapper{}, false
	}
	if wrapper.BlobName == "" {
		return Wrapper{}, false
	}
	return wrapper, true
}

// Fetch retrieves the payload referenced by w. existed is false if the
// blob has gone missing (spec.md §7's OverflowBlobMissing condition).
func (h *Handler) Fetch(ctx context.Context, w Wrapper) (payload []byte, existed bool, err error) {
	return h.blobs.Get(ctx, w.ContainerName, w.BlobName)
}

// DeleteBlob removes the blob w references, tolerating an already-gone
// blob (it is not an error to delete twice).
func (h *Handler) DeleteBlob(ctx context.Context, w Wrapper) error {
	return h.blobs.Delete(ctx, w.ContainerName, w.BlobName)
}

// DeleteWrapped tries to decode data as a Wrapper and delete the blob it
// references, silently tolerating a decode failure — the blob becomes an
// orphan, per spec.md §4.1's Delete algorithm and §9's open question.
func (h *Handler) DeleteWrapped(ctx context.Context, data []byte) {
	w, ok := h.TryUnwrap(data)
	if !ok {
		return
	}
	_ = h.DeleteBlob(ctx, w)
}

// ClearQueue deletes every overflow blob whose key has prefix "{queue}/",
// used by Provider.Clear/DeleteQueue to guarantee no wrapper is ever left
// pointing at a missing blob (spec.md §4.1).
func (h *Handler) ClearQueue(ctx context.Context, queue string) error {
	names, err := h.blobs.List(ctx, ContainerName, queue+"/")
	if err != nil {
		return fmt.Errorf("overflow: listing blobs for %s: %w", queue, err)
	}
	for _, name := range names {
		if err := h.blobs.Delete(ctx, ContainerName, name); err != nil {
			return fmt.Errorf("overflow: deleting blob %s: %w", name, err)
		}
	}
	return nil
}
