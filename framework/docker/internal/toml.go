package internal

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
)

// Toml is a generic TOML document.
type Toml map[string]any

// RecursiveModify merges modifications into doc. Nested tables are merged key
// by key; any other value replaces the existing one.
func RecursiveModify(doc Toml, modifications Toml) error {
	for key, value := range modifications {
		sub, isTable := asTable(value)
		if !isTable {
			doc[key] = value
			continue
		}
		existing, ok := doc[key]
		if !ok {
			doc[key] = map[string]any(sub)
			continue
		}
		target, ok := asTable(existing)
		if !ok {
			return fmt.Errorf("cannot merge table into %q: existing value is %T", key, existing)
		}
		if err := RecursiveModify(target, sub); err != nil {
			return fmt.Errorf("%s.%w", key, err)
		}
		doc[key] = map[string]any(target)
	}
	return nil
}

func asTable(v any) (Toml, bool) {
	switch t := v.(type) {
	case Toml:
		return t, true
	case map[string]any:
		return Toml(t), true
	}
	return nil, false
}

// ModifyTOML decodes bz, applies modifications and encodes the result.
func ModifyTOML(bz []byte, modifications Toml) ([]byte, error) {
	if len(modifications) == 0 {
		return bz, nil
	}
	var doc Toml
	if err := toml.Unmarshal(bz, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal toml: %w", err)
	}
	if err := RecursiveModify(doc, modifications); err != nil {
		return nil, fmt.Errorf("failed to modify toml: %w", err)
	}
	buf := new(bytes.Buffer)
	if err := toml.NewEncoder(buf).Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode toml: %w", err)
	}
	return buf.Bytes(), nil
}
