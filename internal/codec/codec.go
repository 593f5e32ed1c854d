// Package codec provides the Serializer contract the queue provider uses
// to turn typed payloads into wire bytes and back, plus an optional XML-ish
// structural projection for introspective serializers.
package codec

// Serializer is the provider's downstream serialization collaborator.
// TryDeserialize reports failure via error rather than a boolean so callers
// can fold the detail into a poison-store reason string.
type Serializer interface {
	Serialize(v any) ([]byte, error)
	TryDeserialize(data []byte, v any) error
	// UnpackXML returns a structural projection of data, if the
	// serializer is introspective enough to produce one.
	UnpackXML(data []byte) (string, bool)
}
