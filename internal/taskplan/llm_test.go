package taskplan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"fenced", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced with language", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  \n```json\n{\"a\":1}\n```\n  ", `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, stripFences(tc.in))
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Title string `json:"title"`
	}
	require.NoError(t, decodeJSON("```json\n{\"title\":\"x\"}\n```", &v))
	assert.Equal(t, "x", v.Title)

	err := decodeJSON("not json at all", &v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raw response")
}

func TestParseSystemPrompt_SpecifiesContract(t *testing.T) {
	assert.Contains(t, parseSystemPrompt, `"title"`)
	assert.Contains(t, parseSystemPrompt, `"type"`)
	assert.Contains(t, parseSystemPrompt, `"confidence"`)
	for _, typ := range []string{`"feature"`, `"bug"`, `"refactor"`, `"test"`, `"doc"`, `"research"`, `"review"`} {
		assert.Contains(t, parseSystemPrompt, typ)
	}
}

func TestPlanSystemPrompt_SpecifiesContract(t *testing.T) {
	assert.Contains(t, planSystemPrompt, `"agent"`)
	assert.Contains(t, planSystemPrompt, `"isolation"`)
	assert.Contains(t, planSystemPrompt, `"branch"`)
	assert.Contains(t, planSystemPrompt, `"context"`)
	for _, iso := range []string{`"worktree"`, `"branch"`, `"none"`} {
		assert.Contains(t, planSystemPrompt, iso)
	}
}
