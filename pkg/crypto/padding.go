package crypto

import (
	"crypto/subtle"
	"errors"
)

var (
	ErrInvalidPadding = errors.New("invalid padding")
)

// Pad applies PKCS#7 padding. A full block of padding is added when the
// input is already block aligned, so the output is never empty.
func Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize

	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}

	return padded
}

// Unpad strips PKCS#7 padding.
// The pad bytes are checked without branching on their values.
func Unpad(padded []byte, blockSize int) ([]byte, error) {
	n := len(padded)
	if n == 0 || n%blockSize != 0 {
		return nil, ErrInvalidPadding
	}

	padLen := int(padded[n-1])
	good := subtle.ConstantTimeLessOrEq(1, padLen) & subtle.ConstantTimeLessOrEq(padLen, blockSize)

	for i := 0; i < blockSize; i++ {
		inPad := subtle.ConstantTimeLessOrEq(i+1, padLen)
		match := subtle.ConstantTimeByteEq(padded[n-1-i], byte(padLen))
		good &= subtle.ConstantTimeSelect(inPad, match, 1)
	}

	if good != 1 {
		return nil, ErrInvalidPadding
	}

	return padded[:n-padLen], nil
}

// PaddedSize returns the padded length for a message of messageLen bytes
func PaddedSize(messageLen, blockSize int) int {
	return (messageLen/blockSize + 1) * blockSize
}
