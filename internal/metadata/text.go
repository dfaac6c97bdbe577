package metadata

import (
	"encoding/hex"
	"fmt"
)

// EncodeText applies the byte-stable transform used for every key and string value.
func EncodeText(s string) string {
	return hex.EncodeToString([]byte(s))
}

// DecodeText reverses EncodeText.
func DecodeText(s string) (string, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return string(b), nil
}
