package internal

import (
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"
)

func TestRecursiveModify(t *testing.T) {
	doc := Toml{
		"global": map[string]any{"log_level": "info"},
		"mode": map[string]any{
			"packets": map[string]any{"enabled": false, "clear_interval": int64(0)},
		},
		"name": "hermes",
	}

	err := RecursiveModify(doc, Toml{
		"global": Toml{"log_level": "debug"},
		"mode":   Toml{"packets": Toml{"clear_interval": int64(100)}},
		"rest":   Toml{"enabled": true},
	})
	require.NoError(t, err)

	require.Equal(t, "debug", doc["global"].(map[string]any)["log_level"])
	packets := doc["mode"].(map[string]any)["packets"].(map[string]any)
	require.Equal(t, int64(100), packets["clear_interval"])
	require.Equal(t, false, packets["enabled"])
	require.Equal(t, true, doc["rest"].(map[string]any)["enabled"])
	require.Equal(t, "hermes", doc["name"])
}

func TestRecursiveModifyTypeMismatch(t *testing.T) {
	doc := Toml{"global": "flat"}
	err := RecursiveModify(doc, Toml{"global": Toml{"log_level": "debug"}})
	require.ErrorContains(t, err, "global")
}

func TestModifyTOML(t *testing.T) {
	in := []byte("[global]\nlog_level = \"info\"\n\n[[chains]]\nid = \"testing\"\n")

	unchanged, err := ModifyTOML(in, nil)
	require.NoError(t, err)
	require.Equal(t, in, unchanged)

	out, err := ModifyTOML(in, Toml{"global": map[string]any{"log_level": "trace"}})
	require.NoError(t, err)

	var decoded map[string]any
	_, err = toml.Decode(string(out), &decoded)
	require.NoError(t, err)
	require.Equal(t, "trace", decoded["global"].(map[string]any)["log_level"])
	require.Len(t, decoded["chains"], 1)
}
