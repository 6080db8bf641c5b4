package domain

import "math/rand"

// shareCodeAlphabet drops I, O, 0 and 1 to avoid transcription mistakes.
const shareCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// ShareCodeLength is the fixed length of human-entry codes.
const ShareCodeLength = 6

// GenerateShareCode produces a 6-character human-entry code. Uniqueness is
// the caller's responsibility (retry against the competition repository).
func GenerateShareCode(rnd *rand.Rand) string {
	buf := make([]byte, ShareCodeLength)
	for i := range buf {
		buf[i] = shareCodeAlphabet[rnd.Intn(len(shareCodeAlphabet))]
	}
	return string(buf)
}

// ValidShareCode reports whether code has the right length and alphabet.
func ValidShareCode(code string) bool {
	if len(code) != ShareCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		found := false
		for j := 0; j < len(shareCodeAlphabet); j++ {
			if code[i] == shareCodeAlphabet[j] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
