// Package ids generates the compact random identifiers used for graph
// entities and anonymous users. The alphabet and length match the client
// side, which generates node ids with the same scheme.
package ids

import "crypto/rand"

// Alphabet deliberately omits characters that are easy to confuse
// (0/o, 1/l/i). 32 characters, so one random byte maps without bias.
const Alphabet = "23456789abcdefghjklmnpqrstuvwxyz"

// Length is the number of characters in a generated id.
const Length = 12

// New returns a fresh random id.
func New() string {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	for i, b := range buf {
		buf[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(buf)
}
