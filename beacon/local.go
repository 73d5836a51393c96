package beacon

import (
	"encoding/binary"

	"github.com/stupidhorse/racingchain/crypto"
)

// Local is a deterministic in-process beacon for single-node deployments and
// tests: output = SHA-256(round as 8 big-endian bytes || salt). It never
// refuses a round; production deployments register a remote VRF service
// under the same interface instead.
type Local struct{}

// MustGet derives randomness for (committedRound, encodedSalt) and returns it
// framed as a standard beacon log record.
func (Local) MustGet(committedRound uint64, encodedSalt []byte) ([]byte, error) {
	salt, err := DecodeSalt(encodedSalt)
	if err != nil {
		return nil, err
	}
	input := make([]byte, 8, 8+len(salt))
	binary.BigEndian.PutUint64(input, committedRound)
	input = append(input, salt...)
	return WrapLog(crypto.HashBytes(input)), nil
}
