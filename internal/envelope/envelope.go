// Package envelope implements the wire format that carries an
// accumulated dequeue-count across Abandon cycles, since the Queue
// Service's own dequeue counter resets on every re-put. See spec.md §3
// (Message Envelope) and §9 ("Envelope vs wrapper coexistence").
package envelope

import "github.com/knightpfhor/lokad-cloud/internal/codec"

// Envelope is the internal wire format: an accumulated dequeue-count plus
// the real message bytes (which may themselves be a Message Wrapper).
type Envelope struct {
	DequeueCount int64  `yaml:"dequeueCount" json:"dequeueCount"`
	RawMessage   []byte `yaml:"rawMessage" json:"rawMessage"`
}

// Wrap serializes an Envelope carrying dequeueCount and raw.
func Wrap(s codec.Serializer, dequeueCount int64, raw []byte) ([]byte, error) {
	return s.Serialize(Envelope{DequeueCount: dequeueCount, RawMessage: raw})
}

// TryUnwrap attempts to decode data as an Envelope. ok is false if data
// does not look like one, in which case the caller should treat data as
// the raw payload bytes directly.
func TryUnwrap(s codec.Serializer, data []byte) (env Envelope, ok bool) {
	var e Envelope
	if err := s.TryDeserialize(data, &e); err != nil {
		return Envelope{}, false
	}
	if e.RawMessage == nil {
		return Envelope{}, false
	}
	return e, true
}
