package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uint32ptr(v uint32) *uint32 { return &v }

func TestParseLocate(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		want    locateArg
		wantErr bool
	}{
		{
			name: "path only",
			arg:  "main.go",
			want: locateArg{Path: "main.go"},
		},
		{
			name: "path and line",
			arg:  "main.go:10",
			want: locateArg{Path: "main.go", Line: uint32ptr(9)},
		},
		{
			name: "path line and column",
			arg:  "src/main.go:10:5",
			want: locateArg{Path: "src/main.go", Line: uint32ptr(9), Column: uint32ptr(4)},
		},
		{
			name: "path containing colon",
			arg:  "dir:name/main.go:3",
			want: locateArg{Path: "dir:name/main.go", Line: uint32ptr(2)},
		},
		{
			name: "non-numeric suffix stays in path",
			arg:  "main.go:abc",
			want: locateArg{Path: "main.go:abc"},
		},
		{
			name:    "zero line rejected",
			arg:     "main.go:0",
			wantErr: true,
		},
		{
			name:    "zero column rejected",
			arg:     "main.go:1:0",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLocate(tt.arg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePosition(t *testing.T) {
	n, err := parsePosition("12")
	require.NoError(t, err)
	assert.Equal(t, uint32(11), n)

	_, err = parsePosition("0")
	assert.Error(t, err)

	_, err = parsePosition("x")
	assert.Error(t, err)
}

func TestRenderJSON(t *testing.T) {
	_outputFormat = "json"

	var buf bytes.Buffer
	require.NoError(t, render(&buf, json.RawMessage(`{"a":1}`)))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())
}

func TestRenderYAML(t *testing.T) {
	_outputFormat = "yaml"
	defer func() { _outputFormat = "json" }()

	var buf bytes.Buffer
	require.NoError(t, render(&buf, json.RawMessage(`{"a":1}`)))
	assert.Equal(t, "a: 1\n", buf.String())
}

func TestRenderNull(t *testing.T) {
	_outputFormat = "json"

	var buf bytes.Buffer
	require.NoError(t, render(&buf, nil))
	assert.Equal(t, "null\n", buf.String())
}

func TestRenderUnknownFormat(t *testing.T) {
	_outputFormat = "toml"
	defer func() { _outputFormat = "json" }()

	var buf bytes.Buffer
	assert.Error(t, render(&buf, json.RawMessage(`{}`)))
}
