package random

import "math/rand/v2"

const lowerCaseLetters = "abcdefghijklmnopqrstuvwxyz"

// LowerCaseLetterString returns a random string of n lower case ASCII letters.
func LowerCaseLetterString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = lowerCaseLetters[rand.IntN(len(lowerCaseLetters))]
	}
	return string(b)
}
