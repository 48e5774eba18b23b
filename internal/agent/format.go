package agent

import (
	"bytes"
	"encoding/json"
)

// Placeholder strings used when a payload defies textual rendering.
const (
	unprintableContent = "[Unprintable content]"
	unprintableItem    = "[Unprintable item]"
)

// PayloadKind discriminates the shapes a tool result can take.
type PayloadKind int

const (
	// KindEmpty is an absent, null, or zero-length payload.
	KindEmpty PayloadKind = iota
	// KindText is a plain JSON string.
	KindText
	// KindList is a JSON array of items.
	KindList
	// KindObject is a JSON object.
	KindObject
	// KindOpaque is anything else (numbers, booleans, invalid JSON).
	KindOpaque
)

// Payload is the decoded, tagged view of a raw tool result. Modelling the
// shapes as an explicit union keeps the formatter's fallback chain
// exhaustive instead of probing types at each step.
type Payload struct {
	Kind   PayloadKind
	Text   string
	Items  []Payload
	Object map[string]json.RawMessage
	Raw    json.RawMessage
}

// DecodePayload classifies a raw JSON tool result. It never fails: content
// that fits no structured shape comes back as KindOpaque.
func DecodePayload(raw json.RawMessage) Payload {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Payload{Kind: KindEmpty}
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return Payload{Kind: KindText, Text: s}
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err == nil {
			decoded := make([]Payload, 0, len(items))
			for _, item := range items {
				decoded = append(decoded, DecodePayload(item))
			}
			return Payload{Kind: KindList, Items: decoded, Raw: trimmed}
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err == nil {
			return Payload{Kind: KindObject, Object: obj, Raw: trimmed}
		}
	}

	return Payload{Kind: KindOpaque, Raw: trimmed}
}

// FormatResult turns a raw tool result into a single display string. The
// priority order matters: text-bearing shapes always win over generic
// serialization, because the output is re-injected as conversational content
// where readable text is expected.
//
//  1. absent/empty       → ""
//  2. plain text         → as-is
//  3. list of items      → per-item text joined with newlines
//  4. object with "text" → that field's value
//  5. other object       → pretty-printed JSON
//  6. anything else      → raw rendering, placeholder as last resort
func FormatResult(raw json.RawMessage) string {
	return formatPayload(DecodePayload(raw))
}

func formatPayload(p Payload) string {
	switch p.Kind {
	case KindEmpty:
		return ""

	case KindText:
		return p.Text

	case KindList:
		parts := make([]string, 0, len(p.Items))
		for _, item := range p.Items {
			parts = append(parts, formatItem(item))
		}
		return joinLines(parts)

	case KindObject:
		if text, ok := objectText(p.Object); ok {
			return text
		}
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, p.Raw, "", "  "); err == nil {
			return pretty.String()
		}
		return renderRaw(p.Raw, unprintableContent)

	default:
		return renderRaw(p.Raw, unprintableContent)
	}
}

// formatItem renders one element of a list payload: an item's own text field
// wins, then a plain-text item, then a best-effort raw rendering.
func formatItem(item Payload) string {
	switch item.Kind {
	case KindText:
		return item.Text
	case KindObject:
		if text, ok := objectText(item.Object); ok {
			return text
		}
	case KindEmpty:
		return ""
	}
	return renderRaw(item.Raw, unprintableItem)
}

// objectText extracts a string-valued "text" field from an object payload.
func objectText(obj map[string]json.RawMessage) (string, bool) {
	raw, ok := obj["text"]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func renderRaw(raw json.RawMessage, placeholder string) string {
	if len(raw) == 0 {
		return placeholder
	}
	return string(raw)
}

func joinLines(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}
