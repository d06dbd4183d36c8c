package internal

import (
	"strings"
)

// ParseCommandLineArgs converts the flags of a command line into a map for
// easy lookup. Both "--key=value" and "--key value" forms are understood; a
// flag followed by another flag, or by nothing, maps to "". Positional
// arguments are skipped.
func ParseCommandLineArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		key := strings.TrimLeft(arg, "-")
		if k, v, ok := strings.Cut(key, "="); ok {
			result[k] = v
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			result[key] = args[i+1]
			i++
			continue
		}
		result[key] = ""
	}
	return result
}

// Positional returns the arguments of a command line that are neither flags
// nor flag values.
func Positional(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			out = append(out, arg)
			continue
		}
		if !strings.Contains(arg, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			i++
		}
	}
	return out
}
