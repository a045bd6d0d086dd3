// Package response turns a free-form model reply into a validated AnalysisResult.
//
// Parsing happens in two steps. ExtractJSONPayload locates the fenced json
// block in the reply and returns its body; Validate decodes that body,
// applies defaults and decides the shape of extra_info once. Parse runs both.
package response

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/menta2k/vision-studio/pkg/types"
)

const fenceMarker = "```"

var lineCommentRe = regexp.MustCompile(`(?m)^\s*//.*$`)

// fence is one complete ``` block: the language tag on the opening line and
// everything up to the closing marker
type fence struct {
	tag  string
	body string
}

// ExtractJSONPayload returns the body of the first fenced block tagged json
// (case-insensitive). Without a tagged block the first untagged block is
// used; blocks tagged with another language are skipped. A reply without a
// usable block, or with an empty one, yields *types.PayloadNotFoundError.
func ExtractJSONPayload(raw string) (string, error) {
	var chosen *fence
	blocks := scanFences(raw)
	for i := range blocks {
		if blocks[i].tag == "json" {
			chosen = &blocks[i]
			break
		}
		if blocks[i].tag == "" && chosen == nil {
			chosen = &blocks[i]
		}
	}
	if chosen == nil {
		return "", &types.PayloadNotFoundError{Reply: raw}
	}

	payload := sanitizeModelJSON(chosen.body)
	if payload == "" {
		return "", &types.PayloadNotFoundError{Reply: raw}
	}
	return payload, nil
}

// Parse extracts and validates a model reply in one call
func Parse(raw string) (*types.AnalysisResult, error) {
	payload, err := ExtractJSONPayload(raw)
	if err != nil {
		return nil, err
	}
	return Validate(payload)
}

// scanFences splits raw into opening/closing marker pairs, so a closing
// marker is never taken as the start of the next block. The opening marker
// must be followed by a line break.
func scanFences(raw string) []fence {
	var out []fence
	for {
		open := strings.Index(raw, fenceMarker)
		if open < 0 {
			return out
		}
		rest := raw[open+len(fenceMarker):]
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return out
		}
		header := rest[:nl]
		body := rest[nl+1:]
		end := strings.Index(body, fenceMarker)
		if end < 0 {
			return out
		}
		// an inline ``` on the opening line closes the block without a body
		if strings.Contains(header, fenceMarker) {
			raw = rest[strings.Index(rest, fenceMarker)+len(fenceMarker):]
			continue
		}
		out = append(out, fence{
			tag:  strings.ToLower(strings.TrimSpace(header)),
			body: body[:end],
		})
		raw = body[end+len(fenceMarker):]
	}
}

// sanitizeModelJSON removes whole-line comments and trailing commas that
// models sometimes leave inside the block. Valid JSON is returned as is.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || json.Valid([]byte(raw)) {
		return raw
	}
	raw = lineCommentRe.ReplaceAllString(raw, "")
	raw = stripTrailingCommas(raw)
	return strings.TrimSpace(raw)
}

// stripTrailingCommas drops a comma followed only by whitespace and a
// closing bracket. String literals are copied untouched.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}

		switch c {
		case '"':
			inString = true
		case ',':
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
