// Package poison implements the persistence store messages are diverted
// to when they exceed the retry budget or fail to deserialize. See
// spec.md §3 (Persisted Message Record), §4.4, §6 (fixed container name,
// key shape, default store name).
package poison

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/knightpfhor/lokad-cloud/internal/azureblob"
	"github.com/knightpfhor/lokad-cloud/internal/codec"
	"github.com/knightpfhor/lokad-cloud/internal/overflow"
)

// ContainerName is the fixed, compatibility-critical container persisted
// records live in.
const ContainerName = "lokad-cloud-persisted-messages"

// DefaultStoreName is used when a caller does not specify a poison store.
const DefaultStoreName = "failing-messages"

// Record is spec.md's Persisted Message Record. Data holds the unwrapped
// payload bytes unless the message was an overflow wrapper, in which case
// Data holds the wrapper bytes and the blob it points to must still exist
// for Restore/GetPersisted to recover the real payload (spec.md §4.4).
type Record struct {
	QueueName       string    `yaml:"queueName" json:"queueName"`
	InsertionTime   time.Time `yaml:"insertionTime" json:"insertionTime"`
	PersistenceTime time.Time `yaml:"persistenceTime" json:"persistenceTime"`
	DequeueCount    int64     `yaml:"dequeueCount" json:"dequeueCount"`
	Reason          string    `yaml:"reason" json:"reason"`
	Data            []byte    `yaml:"data" json:"data"`
}

// Store persists, lists, fetches, restores and deletes poisoned messages.
type Store struct {
	blobs    azureblob.Service
	codec    codec.Serializer
	overflow *overflow.Handler
}

// New builds a Store over blobs, serializing records with s and
// delegating overflow-blob indirection to ov.
func New(blobs azureblob.Service, s codec.Serializer, ov *overflow.Handler) *Store {
	return &Store{blobs: blobs, codec: s, overflow: ov}
}

func key(store, suffix string) string {
	return fmt.Sprintf("%s/%s", store, suffix)
}

// Persist writes a new Record under a fresh random key and returns that
// key relative to store, in the same form List reports, so it can be
// passed directly to Get/Delete/Restore.
func (s *Store) Persist(ctx context.Context, store, queue string, insertedAt time.Time, dequeueCount int64, reason string, data []byte) (string, error) {
	rec := Record{
		QueueName:       queue,
		InsertionTime:   insertedAt,
		PersistenceTime: now(),
		DequeueCount:    dequeueCount,
		Reason:          reason,
		Data:            data,
	}
	bytes, err := s.codec.Serialize(rec)
	if err != nil {
		return "", fmt.Errorf("poison: serializing record: %w", err)
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	k := key(store, suffix)
	if err := s.blobs.Put(ctx, ContainerName, k, bytes); err != nil {
		return "", fmt.Errorf("poison: storing record: %w", err)
	}
	return suffix, nil
}

// List returns the keys of every record in store, stripped of the
// store/ prefix so each one round-trips directly through Get/Delete/
// Restore.
func (s *Store) List(ctx context.Context, store string) ([]string, error) {
	names, err := s.blobs.List(ctx, ContainerName, store+"/")
	if err != nil {
		return nil, err
	}
	prefix := store + "/"
	keys := make([]string, 0, len(names))
	for _, n := range names {
		keys = append(keys, strings.TrimPrefix(n, prefix))
	}
	return keys, nil
}

// Get fetches the record at key, plus whether its raw bytes are still
// restorable (for an overflow-wrapped record, this requires the blob to
// still exist) and an XML projection when the serializer supports one.
type GetResult struct {
	Record          Record
	IsDataAvailable bool
	PayloadXML      string
	HasXML          bool
}

func (s *Store) Get(ctx context.Context, store, k string) (GetResult, bool, error) {
	data, existed, err := s.blobs.Get(ctx, ContainerName, key(store, k))
	if err != nil {
		return GetResult{}, false, err
	}
	if !existed {
		return GetResult{}, false, nil
	}

	var rec Record
	if err := s.codec.TryDeserialize(data, &rec); err != nil {
		return GetResult{}, false, fmt.Errorf("poison: decoding record: %w", err)
	}

	available := true
	if w, ok := s.overflow.TryUnwrap(rec.Data); ok {
		_, existed, err := s.overflow.Fetch(ctx, w)
		if err != nil {
			return GetResult{}, false, err
		}
		available = existed
	}

	xml, hasXML := s.codec.UnpackXML(rec.Data)
	return GetResult{Record: rec, IsDataAvailable: available, PayloadXML: xml, HasXML: hasXML}, true, nil
}

// Delete removes the record at key, first deleting the overflow blob it
// wraps (if any) per spec.md §4.4.
func (s *Store) Delete(ctx context.Context, store, k string) error {
	data, existed, err := s.blobs.Get(ctx, ContainerName, key(store, k))
	if err != nil {
		return err
	}
	if existed {
		var rec Record
		if err := s.codec.TryDeserialize(data, &rec); err == nil {
			s.overflow.DeleteWrapped(ctx, rec.Data)
		}
	}
	return s.blobs.Delete(ctx, ContainerName, key(store, k))
}

// Restore returns the record's raw stored bytes (verbatim, no envelope)
// so the caller can put them back on the originating queue, then deletes
// the persisted record. It does not touch the overflow blob: the
// restored message still references it.
func (s *Store) Restore(ctx context.Context, store, k string) (queue string, raw []byte, err error) {
	data, existed, err := s.blobs.Get(ctx, ContainerName, key(store, k))
	if err != nil {
		return "", nil, err
	}
	if !existed {
		return "", nil, fmt.Errorf("poison: record %s/%s not found", store, k)
	}

	var rec Record
	if err := s.codec.TryDeserialize(data, &rec); err != nil {
		return "", nil, fmt.Errorf("poison: decoding record: %w", err)
	}

	if err := s.blobs.Delete(ctx, ContainerName, key(store, k)); err != nil {
		return "", nil, fmt.Errorf("poison: deleting record after restore: %w", err)
	}
	return rec.QueueName, rec.Data, nil
}

// now is a seam so tests can stamp deterministic persistence times if
// ever needed; production always uses wall-clock time.
var now = time.Now
