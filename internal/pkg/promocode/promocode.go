package promocode

import (
	"crypto/rand"
	"fmt"
)

// Alphabet holds upper-case letters and digits without the look-alikes
// 0/O and 1/I, so codes survive being read aloud or typed from print.
const Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// DefaultLength is the length of generated promo codes.
const DefaultLength = 8

// Generate returns a random code of DefaultLength.
func Generate() (string, error) {
	return GenerateSecureCode(DefaultLength)
}

// GenerateSecureCode creates a cryptographically secure random code over Alphabet.
func GenerateSecureCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid code length: %d", length)
	}

	// Rejection sampling to avoid modulo bias.
	// With 32 symbols every byte value is usable.
	const maxRandomByte = 256 - 256%len(Alphabet)

	code := make([]byte, length)
	buf := make([]byte, length*2)
	written := 0

	for written < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read secure random bytes: %w", err)
		}

		for _, b := range buf {
			if int(b) >= maxRandomByte {
				continue
			}
			code[written] = Alphabet[int(b)%len(Alphabet)]
			written++
			if written == length {
				break
			}
		}
	}

	return string(code), nil
}
