package oracle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
)

// DefaultConfidence is used when a reply omits confidence_score.
const DefaultConfidence = 0.5

// ErrNoJSONObject is returned when a reply has no balanced {...} span.
var ErrNoJSONObject = errors.New("no JSON object in reply")

var knownKeys = map[string]struct{}{
	"job_item_selector":   {},
	"title_selector":      {},
	"location_selector":   {},
	"department_selector": {},
	"link_selector":       {},
	"confidence_score":    {},
}

// ExtractJSONObject returns the first balanced {...} span in text. Braces
// inside JSON string literals are ignored.
func ExtractJSONObject(text string) (string, error) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := balancedEnd(text, start); end > 0 {
			return text[start:end], nil
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", ErrNoJSONObject
}

// balancedEnd returns the index just past the brace closing text[start], or -1.
func balancedEnd(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// ParseRule extracts, validates and decodes a rule reply.
func ParseRule(reply string) (crawler.Rule, error) {
	obj, err := ExtractJSONObject(reply)
	if err != nil {
		return crawler.Rule{}, err
	}
	if err := validateRule([]byte(obj)); err != nil {
		return crawler.Rule{}, err
	}

	var wire struct {
		JobItem    string   `json:"job_item_selector"`
		Title      string   `json:"title_selector"`
		Location   *string  `json:"location_selector"`
		Department *string  `json:"department_selector"`
		Link       *string  `json:"link_selector"`
		Confidence *float64 `json:"confidence_score"`
	}
	if err := json.Unmarshal([]byte(obj), &wire); err != nil {
		return crawler.Rule{}, fmt.Errorf("decode rule: %w", err)
	}
	rule := crawler.Rule{
		Selectors: crawler.Selectors{
			JobItem:    wire.JobItem,
			Title:      wire.Title,
			Location:   deref(wire.Location),
			Department: deref(wire.Department),
			Link:       deref(wire.Link),
		},
		Confidence: DefaultConfidence,
	}
	if wire.Confidence != nil {
		rule.Confidence = crawler.Clamp01(*wire.Confidence)
	}
	rule.Extra = extraKeys([]byte(obj))
	return rule, nil
}

func extraKeys(obj []byte) map[string]any {
	var all map[string]any
	if err := json.Unmarshal(obj, &all); err != nil {
		return nil
	}
	var extra map[string]any
	for k, v := range all {
		if _, ok := knownKeys[k]; ok {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return extra
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ParseURLSuggestions keeps the trimmed lines of reply that start with "http", in order.
func ParseURLSuggestions(reply string) []string {
	var urls []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http") {
			urls = append(urls, line)
		}
	}
	return urls
}

func decodeForValidation(obj []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(obj))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return v, nil
}
