package deviceauth

import (
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"
)

// userCodeAlphabet excludes characters that read ambiguously on small
// screens (0/O, 1/I).
const userCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const userCodeLength = 8

// GenerateUserCode produces a human-readable code in XXXX-XXXX form.
func GenerateUserCode() (string, error) {
	buf := make([]byte, userCodeLength)
	max := big.NewInt(int64(len(userCodeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "[GenerateUserCode] rand.Int")
		}
		buf[i] = userCodeAlphabet[n.Int64()]
	}
	return string(buf[:4]) + "-" + string(buf[4:]), nil
}
