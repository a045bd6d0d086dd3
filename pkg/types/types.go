package types

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
)

// MaxObjects is the object cap the model is asked to respect
const MaxObjects = 25

// CoordinateScale is the normalization range of box coordinates
const CoordinateScale = 1000.0

// Box is a bounding box as [y1, x1, y2, x2] normalized to [0,1000].
// Corners are not guaranteed to be ordered.
type Box [4]float64

// DetectedObject is one visual entity reported by the model
type DetectedObject struct {
	Box         Box    `json:"box_2d"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// AnalysisResult is the decoded model reply. Object order is drawing order.
type AnalysisResult struct {
	Objects   []DetectedObject `json:"objects"`
	ExtraInfo ExtraInfo        `json:"extra_info"`

	// DroppedObjects counts objects cut off past MaxObjects
	DroppedObjects int `json:"dropped_objects,omitempty"`
}

// ExtraInfoKind tells which variant an ExtraInfo holds
type ExtraInfoKind int

const (
	ExtraInfoNone ExtraInfoKind = iota
	ExtraInfoText
	ExtraInfoSectioned
)

// Field is one sub-key/value line of a nested section
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Section is one heading of a sectioned extra_info. Exactly one of Text or
// Fields is meaningful: Fields is non-nil only for nested mappings.
type Section struct {
	Heading string  `json:"heading"`
	Text    string  `json:"text,omitempty"`
	Fields  []Field `json:"fields,omitempty"`
}

// Nested reports whether the section came from a nested mapping
func (s Section) Nested() bool {
	return s.Fields != nil
}

// ExtraInfo is either free text or an ordered list of sections.
// The variant is fixed at construction time.
type ExtraInfo struct {
	kind     ExtraInfoKind
	text     string
	sections []Section
}

// TextInfo builds the free-text variant
func TextInfo(text string) ExtraInfo {
	return ExtraInfo{kind: ExtraInfoText, text: text}
}

// SectionedInfo builds the heading -> value variant
func SectionedInfo(sections ...Section) ExtraInfo {
	if sections == nil {
		sections = []Section{}
	}
	return ExtraInfo{kind: ExtraInfoSectioned, sections: sections}
}

func (e ExtraInfo) Kind() ExtraInfoKind { return e.kind }

func (e ExtraInfo) Text() string { return e.text }

func (e ExtraInfo) Sections() []Section { return e.sections }

// MarshalJSON writes the variant back in the shape the model produced it:
// a string, or an object keyed by heading in original order.
func (e ExtraInfo) MarshalJSON() ([]byte, error) {
	switch e.kind {
	case ExtraInfoText:
		return json.Marshal(e.text)
	case ExtraInfoSectioned:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, s := range e.sections {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(s.Heading)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if !s.Nested() {
				val, err := json.Marshal(s.Text)
				if err != nil {
					return nil, err
				}
				buf.Write(val)
				continue
			}
			buf.WriteByte('{')
			for j, f := range s.Fields {
				if j > 0 {
					buf.WriteByte(',')
				}
				k, err := json.Marshal(f.Key)
				if err != nil {
					return nil, err
				}
				v, err := json.Marshal(f.Value)
				if err != nil {
					return nil, err
				}
				buf.Write(k)
				buf.WriteByte(':')
				buf.Write(v)
			}
			buf.WriteByte('}')
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return []byte("null"), nil
	}
}

// PixelRect is a box in image pixel space with X1 <= X2 and Y1 <= Y2.
// Values may fall outside the image.
type PixelRect struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Annotation records what was drawn for one object
type Annotation struct {
	Label     string      `json:"label"`
	ColorName string      `json:"color"`
	Color     color.RGBA  `json:"-"`
	Rect      PixelRect   `json:"rect"`
	LabelAt   image.Point `json:"label_at"`
}

// RenderedAnnotation is the output of the full pipeline for one request
type RenderedAnnotation struct {
	Image       image.Image      `json:"-"`
	Objects     []DetectedObject `json:"objects"`
	Annotations []Annotation     `json:"annotations"`
	ExtraInfo   ExtraInfo        `json:"extra_info"`
}
