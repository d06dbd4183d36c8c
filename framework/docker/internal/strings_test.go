package internal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCommandLineArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected map[string]string
	}{
		{
			name:     "empty args",
			args:     []string{},
			expected: map[string]string{},
		},
		{
			name:     "key-value pair",
			args:     []string{"--home=/root/.wasmd"},
			expected: map[string]string{"home": "/root/.wasmd"},
		},
		{
			name:     "separate value",
			args:     []string{"--chain-id", "testing", "--output", "json"},
			expected: map[string]string{"chain-id": "testing", "output": "json"},
		},
		{
			name:     "flag without value",
			args:     []string{"--yes"},
			expected: map[string]string{"yes": ""},
		},
		{
			name:     "flag followed by flag",
			args:     []string{"--yes", "--from", "alice"},
			expected: map[string]string{"yes": "", "from": "alice"},
		},
		{
			name:     "positional arguments are skipped",
			args:     []string{"wasmd", "tx", "wasm", "execute", "wasm1abc", `{"bond":{}}`, "--amount", "100ustake"},
			expected: map[string]string{"amount": "100ustake"},
		},
		{
			name:     "single dash",
			args:     []string{"-y"},
			expected: map[string]string{"y": ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, ParseCommandLineArgs(tt.args))
		})
	}
}

func TestPositional(t *testing.T) {
	args := []string{"wasmd", "tx", "bank", "send", "alice", "wasm1xyz", "5ucosm", "--from", "alice", "--yes", "--home=/h"}
	require.Equal(t, []string{"wasmd", "tx", "bank", "send", "alice", "wasm1xyz", "5ucosm"}, Positional(args))
}
