package oracle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "bare", in: `{"a":1}`, want: `{"a":1}`},
		{name: "prose around", in: "Sure! Here you go:\n{\"a\":{\"b\":2}}\nLet me know.", want: `{"a":{"b":2}}`},
		{name: "braces in strings", in: `x {"sel":"div:not({})","q":"\"}"} y`, want: `{"sel":"div:not({})","q":"\"}"}`},
		{name: "first of two", in: `{"a":1} and {"b":2}`, want: `{"a":1}`},
		{name: "unbalanced then balanced", in: `{ oops {"a":1}`, want: `{"a":1}`},
		{name: "none", in: "no json here", wantErr: true},
		{name: "never closes", in: `{"a":1`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractJSONObject(tc.in)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrNoJSONObject)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseRuleFullReply(t *testing.T) {
	t.Parallel()

	reply := "```json\n" + `{
  "job_list_selector": "ul.jobs",
  "job_item_selector": "ul.jobs > li",
  "title_selector": "h3",
  "location_selector": ".location",
  "department_selector": null,
  "link_selector": "a",
  "confidence_score": 0.8,
  "notes": "clean list"
}` + "\n```"
	rule, err := ParseRule(reply)
	require.NoError(t, err)
	require.Equal(t, "ul.jobs > li", rule.JobItem)
	require.Equal(t, "h3", rule.Title)
	require.Equal(t, ".location", rule.Location)
	require.Empty(t, rule.Department)
	require.Equal(t, "a", rule.Link)
	require.InDelta(t, 0.8, rule.Confidence, 1e-9)
	require.Equal(t, "ul.jobs", rule.Extra["job_list_selector"])
	require.Equal(t, "clean list", rule.Extra["notes"])
	require.NotContains(t, rule.Extra, "title_selector")
}

func TestParseRuleDefaultsAndClamps(t *testing.T) {
	t.Parallel()

	rule, err := ParseRule(`{"job_item_selector":"li","title_selector":"h2"}`)
	require.NoError(t, err)
	require.Equal(t, DefaultConfidence, rule.Confidence)
	require.Nil(t, rule.Extra)

	rule, err = ParseRule(`{"job_item_selector":"li","title_selector":"h2","confidence_score":7}`)
	require.NoError(t, err)
	require.Equal(t, 1.0, rule.Confidence)
}

func TestParseRuleRejectsBadShapes(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing title":      `{"job_item_selector":"li"}`,
		"empty item":         `{"job_item_selector":"","title_selector":"h2"}`,
		"wrong type":         `{"job_item_selector":["li"],"title_selector":"h2"}`,
		"confidence as text": `{"job_item_selector":"li","title_selector":"h2","confidence_score":"high"}`,
		"not json":           `{job_item_selector: li}`,
		"no object":          `I could not find any jobs.`,
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseRule(reply)
			require.Error(t, err)
		})
	}
}

func TestParseURLSuggestions(t *testing.T) {
	t.Parallel()

	reply := "Here are likely URLs:\n  https://acme.com/careers \n1. https://acme.com/jobs\nhttp://jobs.acme.com\n\nhttps://boards.example/acme"
	require.Equal(t, []string{
		"https://acme.com/careers",
		"http://jobs.acme.com",
		"https://boards.example/acme",
	}, ParseURLSuggestions(reply))
	require.Empty(t, ParseURLSuggestions("none"))
}
