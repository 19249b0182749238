package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	suffixLen      = 6
	suffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// NameFunc derives the repository name for an iteration.
type NameFunc func(prefix string, iteration int) string

// RepoName returns <prefix>-<iteration>-<6 random base36 chars>. Uniqueness
// against existing remote repositories is not checked.
func RepoName(prefix string, iteration int) string {
	return formatRepoName(prefix, iteration, randomSuffix())
}

func formatRepoName(prefix string, iteration int, suffix string) string {
	return fmt.Sprintf("%s-%d-%s", prefix, iteration, suffix)
}

func randomSuffix() string {
	buf := make([]byte, suffixLen)
	base := big.NewInt(int64(len(suffixAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			n = big.NewInt(int64(i))
		}
		buf[i] = suffixAlphabet[n.Int64()]
	}
	return string(buf)
}
