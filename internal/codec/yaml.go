package codec

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// YAMLSerializer is the default Serializer. It is introspective: UnpackXML
// walks the document's yaml.Node tree and renders a best-effort XML-ish
// projection, used by the poison store's GetPersisted to show a human a
// payload it could not otherwise reconstruct into a typed value.
type YAMLSerializer struct{}

func (YAMLSerializer) Serialize(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

func (YAMLSerializer) TryDeserialize(data []byte, v any) error {
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	return dec.Decode(v)
}

func (YAMLSerializer) UnpackXML(data []byte) (string, bool) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return "", false
	}
	if len(node.Content) == 0 {
		return "", false
	}
	var b strings.Builder
	b.WriteString("<message>")
	renderNode(&b, node.Content[0])
	b.WriteString("</message>")
	return b.String(), true
}

func renderNode(b *strings.Builder, n *yaml.Node) {
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := xmlEscape(n.Content[i].Value)
			fmt.Fprintf(b, "<%s>", key)
			renderNode(b, n.Content[i+1])
			fmt.Fprintf(b, "</%s>", key)
		}
	case yaml.SequenceNode:
		for _, item := range n.Content {
			b.WriteString("<item>")
			renderNode(b, item)
			b.WriteString("</item>")
		}
	default:
		b.WriteString(xmlEscape(n.Value))
	}
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
