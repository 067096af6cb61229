package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveStreamMode(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]any
		want StreamMode
	}{
		{"nil metadata", nil, StreamModeNone},
		{"empty metadata", map[string]any{}, StreamModeNone},
		{"explicit append", map[string]any{"stream": "append"}, StreamModeAppend},
		{"explicit replace", map[string]any{"stream": "replace"}, StreamModeReplace},
		{"unknown stream value", map[string]any{"stream": "chunked"}, StreamModeNone},
		{"streamable string", map[string]any{"type": "string", "streamable": true}, StreamModeAppend},
		{"streamable non-string", map[string]any{"type": "object", "streamable": true}, StreamModeNone},
		{"streamable false", map[string]any{"type": "string", "streamable": false}, StreamModeNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveStreamMode(tt.meta))
		})
	}
}

func TestParsePort(t *testing.T) {
	p := ParsePort("text", map[string]any{
		"title":    "Input Text",
		"required": true,
		"default":  "hi",
		"format":   "dataset",
		"stream":   "append",
	})

	assert.Equal(t, "text", p.ID)
	assert.Equal(t, "Input Text", p.Title)
	assert.True(t, p.Required)
	assert.Equal(t, "hi", p.Default)
	assert.Equal(t, "dataset", p.Format)
	assert.Equal(t, StreamModeAppend, p.Stream)
}

func TestParsePort_Defaults(t *testing.T) {
	p := ParsePort("out", nil)
	assert.Equal(t, "out", p.ID)
	assert.False(t, p.Required)
	assert.Nil(t, p.Default)
	assert.Equal(t, StreamModeNone, p.Stream)
}

func TestIsWildcard(t *testing.T) {
	assert.True(t, IsWildcard("*"))
	assert.False(t, IsWildcard("text"))
	assert.False(t, IsWildcard(""))
}
