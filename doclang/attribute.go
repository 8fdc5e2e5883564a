package doclang

import "strings"

// AttributeKey names the derived attribute of one tag parameter, e.g. "SCHEMA.subject".
func AttributeKey(t TagType, param string) string {
	return t.String() + "." + param
}

// Extract collects every non-nil tag parameter of doc, keyed by AttributeKey,
// values in document order.
func Extract(doc string) map[string][]interface{} {
	return defaultParser.Extract(doc)
}

func (p *Parser) Extract(doc string) map[string][]interface{} {
	ret := make(map[string][]interface{})
	for _, part := range p.Parse(doc) {
		tag, ok := part.(Tag)
		if !ok {
			continue
		}
		params := tag.Type.Params()
		for i, v := range tag.Params {
			if v == nil || i >= len(params) {
				continue
			}
			key := AttributeKey(tag.Type, params[i].Name)
			ret[key] = append(ret[key], v)
		}
	}
	return ret
}

// IsAttributeKey reports whether key has the shape of a derived attribute key,
// so user supplied attributes cannot shadow them.
func IsAttributeKey(key string) bool {
	for _, t := range TagTypes() {
		prefix := t.String() + "."
		if len(key) > len(prefix) && strings.EqualFold(key[:len(prefix)], prefix) {
			return true
		}
	}
	return false
}
