package oracle

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	preimage "github.com/ethereum-optimism/optimism/op-preimage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// HashKind selects the hash function a content-addressed pre-image is keyed by.
type HashKind uint8

const (
	HashKeccak256 HashKind = iota
	HashSha256
)

func (k HashKind) String() string {
	switch k {
	case HashKeccak256:
		return "keccak256"
	case HashSha256:
		return "sha256"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// KeyType returns the type byte of keys of this hash kind.
func (k HashKind) KeyType() preimage.KeyType {
	switch k {
	case HashKeccak256:
		return preimage.Keccak256KeyType
	case HashSha256:
		return preimage.Sha256KeyType
	default:
		return 0
	}
}

// Localize binds a raw local key, as written by the program, to the party that
// deposited the local data and to the local context of the dispute.
func Localize(key [32]byte, depositor common.Address, localContext common.Hash) [32]byte {
	out := crypto.Keccak256Hash(key[:], common.LeftPadBytes(depositor[:], 32), localContext[:])
	out[0] = byte(preimage.LocalKeyType)
	return out
}

// LocalKey computes the localized key of the local data with the given identifier.
func LocalKey(ident uint64, depositor common.Address, localContext common.Hash) [32]byte {
	return Localize(preimage.LocalIndexKey(ident).PreimageKey(), depositor, localContext)
}

func Keccak256Key(data []byte) [32]byte {
	return preimage.Keccak256Key(crypto.Keccak256Hash(data)).PreimageKey()
}

func Sha256Key(data []byte) [32]byte {
	out := sha256.Sum256(data)
	out[0] = byte(preimage.Sha256KeyType)
	return out
}

// ContentKey computes the key of the pre-image content, hashed with the given hash kind.
func ContentKey(data []byte, kind HashKind) ([32]byte, error) {
	switch kind {
	case HashKeccak256:
		return Keccak256Key(data), nil
	case HashSha256:
		return Sha256Key(data), nil
	default:
		return [32]byte{}, fmt.Errorf("%w: %s", ErrUnsupportedHashKind, kind)
	}
}

// LocalIdent returns the identifier of a raw local key.
func LocalIdent(key [32]byte) (uint64, error) {
	if !IsLocalKey(key) {
		return 0, fmt.Errorf("not a local key: %x", key)
	}
	for _, b := range key[1:24] {
		if b != 0 {
			return 0, fmt.Errorf("local key %x is not a raw local key", key)
		}
	}
	return binary.BigEndian.Uint64(key[24:]), nil
}

// IsLocalKey reports whether the key carries the local key type byte.
func IsLocalKey(key [32]byte) bool {
	return key[0] == byte(preimage.LocalKeyType)
}
