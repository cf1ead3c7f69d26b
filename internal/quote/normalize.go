package quote

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Annotation is a free-form overlay drawn on a PDF page. The shape is
// client-defined; the server only guarantees the numeric fields below are
// stored as numbers and that page is always present.
type Annotation map[string]any

// Fields coerced to numbers when present. Page additionally defaults to 1
// when absent or unparseable.
var numericAnnotationFields = [...]string{
	"page", "x", "y", "startX", "startY", "endX", "endY",
	"width", "height", "strokeWidth", "fontSize", "textFontSize",
}

// UnmarshalJSON tolerates the legacy shapes the comments field accumulated
// over time: a bare string, null, or an array mixing strings and objects.
// Annotations likewise pass through normalization on decode.
func (v *Version) UnmarshalJSON(data []byte) error {
	type versionAlias Version
	aux := struct {
		*versionAlias
		Comments    json.RawMessage `json:"comments"`
		Annotations json.RawMessage `json:"annotations"`
	}{versionAlias: (*versionAlias)(v)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	v.Comments = coerceComments(aux.Comments)
	if len(aux.Annotations) > 0 && !bytes.Equal(aux.Annotations, []byte("null")) {
		v.Annotations = NormalizeAnnotations(aux.Annotations)
	}
	return nil
}

func coerceComments(raw json.RawMessage) []Comment {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if t := strings.TrimSpace(text); t != "" {
			return []Comment{{Text: t}}
		}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]Comment, 0, len(items))
	for _, item := range items {
		if c, ok := coerceComment(item); ok {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func coerceComment(raw json.RawMessage) (Comment, bool) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if t := strings.TrimSpace(text); t != "" {
			return Comment{Text: t}, true
		}
		return Comment{}, false
	}
	var obj struct {
		Text    string          `json:"text"`
		AddedBy json.RawMessage `json:"addedBy"`
		AddedAt json.RawMessage `json:"addedAt"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Comment{}, false
	}
	t := strings.TrimSpace(obj.Text)
	if t == "" {
		return Comment{}, false
	}
	c := Comment{Text: t}
	var by string
	if json.Unmarshal(obj.AddedBy, &by) == nil {
		c.AddedBy = by
	}
	var at time.Time
	if json.Unmarshal(obj.AddedAt, &at) == nil {
		c.AddedAt = at
	}
	return c, true
}

// NormalizeAnnotations coerces an incoming annotations value to the canonical
// form: always an array, numeric fields stored as numbers, page present on
// every annotation. Non-array input yields an empty array. The result shares
// no storage with the input.
func NormalizeAnnotations(raw any) []Annotation {
	switch v := raw.(type) {
	case nil:
		return []Annotation{}
	case []Annotation:
		out := make([]Annotation, 0, len(v))
		for _, a := range v {
			out = append(out, normalizeAnnotation(a))
		}
		return out
	case []any:
		out := make([]Annotation, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, normalizeAnnotation(m))
			}
		}
		return out
	case json.RawMessage:
		var items []map[string]any
		if err := json.Unmarshal(v, &items); err != nil {
			return []Annotation{}
		}
		out := make([]Annotation, 0, len(items))
		for _, m := range items {
			out = append(out, normalizeAnnotation(m))
		}
		return out
	default:
		return []Annotation{}
	}
}

func normalizeAnnotation(a map[string]any) Annotation {
	out := make(Annotation, len(a)+1)
	for k, v := range a {
		out[k] = v
	}
	for _, field := range numericAnnotationFields {
		v, present := out[field]
		if !present {
			continue
		}
		if n, ok := toNumber(v); ok {
			out[field] = n
		} else if field == "page" {
			out["page"] = float64(1)
		}
	}
	if _, ok := out["page"]; !ok {
		out["page"] = float64(1)
	}
	return out
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// AnnotationsEqual compares two annotation sets by canonical JSON encoding.
// Map keys marshal in sorted order, so encoding differences reflect real
// content differences.
func AnnotationsEqual(a, b []Annotation) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		aj, err := json.Marshal(a[i])
		if err != nil {
			return false
		}
		bj, err := json.Marshal(b[i])
		if err != nil {
			return false
		}
		if !bytes.Equal(aj, bj) {
			return false
		}
	}
	return true
}

// Normalize runs the read-repair pass over every version: empty comments are
// dropped, missing attribution falls back to the version's reviewer (then the
// acting user), missing timestamps fall back to the version's upload time
// (then now), and annotation numeric fields are coerced. Running it twice
// yields the same aggregate.
func (q *Quotation) Normalize(actor string, now time.Time) {
	for i := range q.Versions {
		v := &q.Versions[i]

		fallbackBy := v.ReviewedBy
		if fallbackBy == "" {
			fallbackBy = actor
		}
		fallbackAt := v.UploadedAt
		if fallbackAt.IsZero() {
			fallbackAt = now
		}

		cleaned := make([]Comment, 0, len(v.Comments))
		for _, c := range v.Comments {
			c.Text = strings.TrimSpace(c.Text)
			if c.Text == "" {
				continue
			}
			if c.AddedBy == "" {
				c.AddedBy = fallbackBy
			}
			if c.AddedAt.IsZero() {
				c.AddedAt = fallbackAt
			}
			cleaned = append(cleaned, c)
		}
		v.Comments = cleaned

		if v.Annotations != nil {
			v.Annotations = NormalizeAnnotations(v.Annotations)
		}
	}
}
