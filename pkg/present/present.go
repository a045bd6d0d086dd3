// Package present turns a model's extra_info into display panels for the
// web page and the terminal.
package present

import (
	"html"
	"html/template"
	"strings"

	"github.com/menta2k/vision-studio/pkg/types"
)

// Panel is one block of the "Detailed Information" area. Heading is empty
// for free text. Pairs is set only for nested mappings.
type Panel struct {
	Heading string        `json:"heading,omitempty"`
	Text    string        `json:"text,omitempty"`
	Pairs   []types.Field `json:"pairs,omitempty"`
}

// Panels lays out extra in document order
func Panels(extra types.ExtraInfo) []Panel {
	switch extra.Kind() {
	case types.ExtraInfoText:
		return []Panel{{Text: extra.Text()}}
	case types.ExtraInfoSectioned:
		sections := extra.Sections()
		panels := make([]Panel, 0, len(sections))
		for _, s := range sections {
			p := Panel{Heading: s.Heading}
			if s.Nested() {
				p.Pairs = s.Fields
			} else {
				p.Text = s.Text
			}
			panels = append(panels, p)
		}
		return panels
	default:
		return nil
	}
}

// HTML renders extra as escaped HTML: headings as <h3>, text as <p> and
// nested pairs as <p><strong>key</strong>: value</p>. Line breaks inside
// text become <br>.
func HTML(extra types.ExtraInfo) template.HTML {
	var b strings.Builder
	for _, p := range Panels(extra) {
		if p.Heading != "" {
			b.WriteString("<h3>" + html.EscapeString(p.Heading) + "</h3>\n")
		}
		if p.Pairs != nil {
			for _, f := range p.Pairs {
				b.WriteString("<p><strong>" + html.EscapeString(f.Key) + "</strong>: " + escapeText(f.Value) + "</p>\n")
			}
			continue
		}
		b.WriteString("<p>" + escapeText(p.Text) + "</p>\n")
	}
	return template.HTML(b.String())
}

var lineBreaks = strings.NewReplacer("\r\n", "<br>\n", "\n", "<br>\n")

// escapeText escapes s and keeps its line breaks visible
func escapeText(s string) string {
	return lineBreaks.Replace(html.EscapeString(s))
}

// Markdown renders extra for terminal output
func Markdown(extra types.ExtraInfo) string {
	var b strings.Builder
	for i, p := range Panels(extra) {
		if i > 0 {
			b.WriteString("\n")
		}
		if p.Heading != "" {
			b.WriteString("### " + p.Heading + "\n\n")
		}
		if p.Pairs != nil {
			for _, f := range p.Pairs {
				b.WriteString("**" + f.Key + "**: " + f.Value + "\n")
			}
			continue
		}
		b.WriteString(p.Text + "\n")
	}
	return b.String()
}
