package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/spf13/cast"

	"github.com/menta2k/vision-studio/pkg/types"
)

type rawObject struct {
	Box         []float64 `json:"box_2d"`
	Label       string    `json:"label"`
	Description string    `json:"description"`
}

// Validate decodes jsonText and checks it against the response contract.
//
// A missing objects key means no objects. A missing extra_info (or
// extraInfo) is an error because the result panel always shows it. Objects
// beyond types.MaxObjects are dropped and counted in DroppedObjects.
func Validate(jsonText string) (*types.AnalysisResult, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jsonText), &top); err != nil {
		return nil, &types.MalformedResponseError{Reason: "payload is not a JSON object", Err: err}
	}
	if top == nil {
		return nil, &types.MalformedResponseError{Reason: "payload is null"}
	}

	objects, err := decodeObjects(top["objects"])
	if err != nil {
		return nil, err
	}

	rawInfo, ok := top["extra_info"]
	if !ok || isNull(rawInfo) {
		rawInfo, ok = top["extraInfo"]
	}
	if !ok || isNull(rawInfo) {
		return nil, &types.MalformedResponseError{Reason: "missing extra_info"}
	}

	info, err := decodeExtraInfo(rawInfo)
	if err != nil {
		return nil, err
	}

	result := &types.AnalysisResult{Objects: objects, ExtraInfo: info}
	if len(result.Objects) > types.MaxObjects {
		result.DroppedObjects = len(result.Objects) - types.MaxObjects
		result.Objects = result.Objects[:types.MaxObjects]
	}
	return result, nil
}

func decodeObjects(raw json.RawMessage) ([]types.DetectedObject, error) {
	if raw == nil || isNull(raw) {
		return []types.DetectedObject{}, nil
	}

	var items []rawObject
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &types.MalformedResponseError{Reason: "objects is not a list of objects", Err: err}
	}

	out := make([]types.DetectedObject, 0, len(items))
	for i, it := range items {
		if len(it.Box) != 4 {
			return nil, &types.MalformedResponseError{
				Reason: fmt.Sprintf("objects[%d].box_2d has %d coordinates, want 4", i, len(it.Box)),
			}
		}
		out = append(out, types.DetectedObject{
			Box:         types.Box{it.Box[0], it.Box[1], it.Box[2], it.Box[3]},
			Label:       SanitizeLabel(it.Label),
			Description: strings.TrimSpace(it.Description),
		})
	}
	return out, nil
}

// SanitizeLabel makes a label safe to draw as a single line of text
func SanitizeLabel(label string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, label)
	return strings.Join(strings.Fields(cleaned), " ")
}

func decodeExtraInfo(raw json.RawMessage) (types.ExtraInfo, error) {
	trimmed := bytes.TrimSpace(raw)
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return types.ExtraInfo{}, &types.MalformedResponseError{Reason: "extra_info string", Err: err}
		}
		return types.TextInfo(s), nil
	case '{':
		sections, err := decodeSections(trimmed)
		if err != nil {
			return types.ExtraInfo{}, &types.MalformedResponseError{Reason: "extra_info mapping", Err: err}
		}
		return types.SectionedInfo(sections...), nil
	default:
		return types.ExtraInfo{}, &types.MalformedResponseError{
			Reason: "extra_info must be a string or an object",
		}
	}
}

func decodeSections(raw []byte) ([]types.Section, error) {
	keys, values, err := orderedObject(raw)
	if err != nil {
		return nil, err
	}

	sections := make([]types.Section, 0, len(keys))
	for i, key := range keys {
		val := bytes.TrimSpace(values[i])
		s := types.Section{Heading: key}
		if len(val) > 0 && val[0] == '{' {
			subKeys, subValues, err := orderedObject(val)
			if err != nil {
				return nil, fmt.Errorf("section %q: %w", key, err)
			}
			s.Fields = make([]types.Field, 0, len(subKeys))
			for j, sk := range subKeys {
				v, err := scalarText(subValues[j])
				if err != nil {
					return nil, fmt.Errorf("section %q key %q: %w", key, sk, err)
				}
				s.Fields = append(s.Fields, types.Field{Key: sk, Value: v})
			}
		} else {
			text, err := sectionText(val)
			if err != nil {
				return nil, fmt.Errorf("section %q: %w", key, err)
			}
			s.Text = text
		}
		sections = append(sections, s)
	}
	return sections, nil
}

// orderedObject walks a JSON object and returns keys in document order.
// A repeated key keeps its first position and its last value.
func orderedObject(raw []byte) ([]string, []json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("expected object, got %v", tok)
	}

	var keys []string
	var values []json.RawMessage
	index := map[string]int{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expected key, got %v", tok)
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, nil, err
		}
		if i, seen := index[key]; seen {
			values[i] = val
			continue
		}
		index[key] = len(keys)
		keys = append(keys, key)
		values = append(values, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return keys, values, nil
}

// sectionText renders a non-object section value as display text
func sectionText(raw []byte) (string, error) {
	if len(raw) > 0 && raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return "", err
		}
		parts := make([]string, 0, len(items))
		for _, it := range items {
			s, err := scalarText(it)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ", "), nil
	}
	return scalarText(raw)
}

// scalarText coerces a scalar to text; objects and arrays come back as
// compact JSON
func scalarText(raw []byte) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && (raw[0] == '{' || raw[0] == '[') {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return "", err
		}
		return buf.String(), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return cast.ToStringE(v)
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || string(t) == "null"
}
