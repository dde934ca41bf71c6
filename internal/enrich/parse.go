package enrich

import (
	"regexp"
	"strings"
)

var (
	titleRe       = regexp.MustCompile(`(?i)TITLE:\s*([^\n]+)`)
	descriptionRe = regexp.MustCompile(`(?is)DESCRIPTION:\s*(.+)$`)
)

// ParseDescription extracts the TITLE: line and DESCRIPTION: block of a model answer. Without a
// title marker the title is FallbackTitle; without a description marker the whole answer is the
// description.
func ParseDescription(text string) (Description, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Description{}, ErrEmptyResponse
	}

	out := Description{Title: FallbackTitle, Analysis: text}
	if m := titleRe.FindStringSubmatch(text); m != nil {
		if t := cleanMarkup(m[1]); t != "" {
			out.Title = t
		}
	}
	if m := descriptionRe.FindStringSubmatch(text); m != nil {
		if d := cleanMarkup(m[1]); d != "" {
			out.Analysis = d
		}
	}
	return out, nil
}

// cleanMarkup drops the emphasis and bracket residue models like to wrap answers in.
func cleanMarkup(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*_#")
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
