package random

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLowerCaseLetterString(t *testing.T) {
	require.Empty(t, LowerCaseLetterString(0))

	for _, n := range []int{1, 12, 30} {
		s := LowerCaseLetterString(n)
		require.Len(t, s, n)
		for _, c := range s {
			require.True(t, c >= 'a' && c <= 'z', "unexpected character %q", c)
		}
	}
}
