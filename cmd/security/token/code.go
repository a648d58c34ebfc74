package token

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// CodeDigits is the length of human-typed verification codes.
const CodeDigits = 8

var ten = big.NewInt(10)

// NewCode returns a uniformly random numeric code of n digits.
func NewCode(n int) (string, error) {
	if n <= 0 {
		n = CodeDigits
	}
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}
