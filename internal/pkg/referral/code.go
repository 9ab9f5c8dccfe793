package referral

import "crypto/rand"

// codeAlphabet deliberately drops 0, 1 and I, which read ambiguously in
// invite links. 33 characters, 8 positions: ~1.2e12 possible codes.
const codeAlphabet = "23456789ABCDEFGHJKLMNOPQRSTUVWXYZ"

// DefaultCodeLength is the length of generated referral codes.
const DefaultCodeLength = 8

// GenerateCode draws length characters uniformly at random from the code
// alphabet. Codes are not secrets; uniqueness is enforced by the storage
// constraint at write time.
func GenerateCode(length int) string {
	if length <= 0 {
		length = DefaultCodeLength
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}
