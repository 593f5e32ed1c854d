package codec

import (
	"bytes"
	"encoding/json"
)

// JSONSerializer is an alternate Serializer. It has no structural
// introspection, so UnpackXML always reports unavailable.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) TryDeserialize(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (JSONSerializer) UnpackXML([]byte) (string, bool) {
	return "", false
}
