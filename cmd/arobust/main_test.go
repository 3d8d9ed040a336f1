package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name    string
		raw     []string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty", raw: nil, want: map[string]string{}},
		{name: "pairs", raw: []string{"rank0=CUDA out of memory", "rank1=ok"},
			want: map[string]string{"rank0": "CUDA out of memory", "rank1": "ok"}},
		{name: "value with equals", raw: []string{"err=a=b"}, want: map[string]string{"err": "a=b"}},
		{name: "empty value", raw: []string{"err="}, want: map[string]string{"err": ""}},
		{name: "missing separator", raw: []string{"oops"}, wantErr: true},
		{name: "empty key", raw: []string{"=value"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFailures(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"agent"},
		{"diagnose"},
		{"checkpoint", "list"},
		{"checkpoint", "load"},
		{"checkpoint", "prune"},
		{"version"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
