package agent

import (
	"errors"
	"strings"
)

var ErrNoJSONObject = errors.New("no JSON object in agent response")

// ExtractJSON pulls the JSON object out of an agent text reply. Agents tend
// to wrap their answer in markdown code fences or surround it with prose, so
// fences are stripped first and then the outermost {...} span is taken.
func ExtractJSON(reply string) (string, error) {
	s := reply

	if i := strings.Index(s, "```json"); i >= 0 {
		rest := s[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			s = strings.TrimSpace(rest[:j])
		}
	} else if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			s = strings.TrimSpace(rest[:j])
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSONObject
	}
	return s[start : end+1], nil
}
