package ids

import (
	"crypto/rand"
	"strings"

	"github.com/mr-tron/base58/base58"
)

// GeneratePrefixedID returns prefix_<base58 of 12 random bytes>.
func GeneratePrefixedID(prefix string) (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return base58.Encode(buf), nil
	}
	return prefix + "_" + base58.Encode(buf), nil
}

// MustPrefixedID panics when the system random source fails.
func MustPrefixedID(prefix string) string {
	id, err := GeneratePrefixedID(prefix)
	if err != nil {
		panic(err)
	}
	return id
}
