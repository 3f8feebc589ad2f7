package hub

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// roomSecretAlphabet spans the printable ASCII range, matching spec §9's
// "256 ASCII printable characters".
const roomSecretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789" +
	"!#$%&()*+,-./:;<=>?@[]^_{|}~"

const publicRoomAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomString(alphabet string, n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}

// generateRoomSecret mints a fresh 256-character room secret.
func generateRoomSecret() string {
	s, err := randomString(roomSecretAlphabet, 256)
	if err != nil {
		// crypto/rand failing is unrecoverable; a deterministic fallback
		// would silently weaken the secret, so panic rather than mint a
		// forgeable room key.
		panic(fmt.Errorf("hub: generate room secret: %w", err))
	}
	return s
}

// generatePublicRoomID mints a 5-character lowercase alphanumeric id.
func generatePublicRoomID() string {
	s, err := randomString(publicRoomAlphabet, 5)
	if err != nil {
		panic(fmt.Errorf("hub: generate public room id: %w", err))
	}
	return s
}

// generatePairKeyCandidate draws one candidate per spec §3/§4.5:
// randomInt(1_000_000, 1_999_999) with the leading digit dropped, giving a
// uniform 6-digit decimal string that preserves leading zeros.
func generatePairKeyCandidate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	full := 1_000_000 + n.Int64() // in [1_000_000, 1_999_999]
	return fmt.Sprintf("%07d", full)[1:], nil
}
