package security

import (
	"crypto/rand"
)

// WipeBytes overwrites a secret with random data and then zeros so it does
// not linger in memory after use.
func WipeBytes(data []byte) {
	if len(data) == 0 {
		return
	}

	rand.Read(data)
	for i := range data {
		data[i] = 0
	}
}
