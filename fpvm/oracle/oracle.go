package oracle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	preimage "github.com/ethereum-optimism/optimism/op-preimage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/log"
)

var (
	ErrPartOffsetOOB       = errors.New("part offset out of bounds")
	ErrPreimageNotFound    = errors.New("pre-image part not found")
	ErrUnsupportedHashKind = errors.New("unsupported hash kind")
)

// MaxLocalDataSize is the maximum size of local data: a single word.
const MaxLocalDataSize = 32

// KeyValueStore is the storage backend of the Oracle.
type KeyValueStore interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
}

var (
	partPrefix   = []byte("p")
	lengthPrefix = []byte("l")
)

func partDBKey(key [32]byte, offset uint64) []byte {
	out := make([]byte, 0, len(partPrefix)+32+8)
	out = append(out, partPrefix...)
	out = append(out, key[:]...)
	return binary.BigEndian.AppendUint64(out, offset)
}

func lengthDBKey(key [32]byte) []byte {
	return append(append([]byte{}, lengthPrefix...), key[:]...)
}

// Oracle stores pre-images as 32 byte parts of the length-prefixed pre-image,
// each made available at a specific offset after it has been loaded.
// The parts are trusted because the key commits to the content:
// the hash of the pre-image, or the depositor and local context for local data.
type Oracle struct {
	mu  sync.RWMutex
	db  KeyValueStore
	log log.Logger
}

func NewOracle(db KeyValueStore, logger log.Logger) *Oracle {
	return &Oracle{db: db, log: logger}
}

// NewMemoryOracle creates an Oracle that keeps all parts in memory.
func NewMemoryOracle(logger log.Logger) *Oracle {
	return NewOracle(memorydb.New(), logger)
}

// prefixedPart returns the 32 bytes at offset of the length-prefixed data, zero-padded.
func prefixedPart(size uint64, data []byte, offset uint64) (part [32]byte) {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], size)
	if offset < 8 {
		n := copy(part[:], prefix[offset:])
		copy(part[n:], data)
		return
	}
	if i := offset - 8; i < uint64(len(data)) {
		copy(part[:], data[i:])
	}
	return
}

// LoadLocalPart makes the part at partOffset of the local data available,
// keyed by the identifier, the local context and the depositor of the data.
func (o *Oracle) LoadLocalPart(ident uint64, localContext common.Hash, word [32]byte, size uint64, partOffset uint64, depositor common.Address) ([32]byte, error) {
	if size > MaxLocalDataSize {
		return [32]byte{}, fmt.Errorf("%w: local data size %d exceeds %d", ErrPartOffsetOOB, size, MaxLocalDataSize)
	}
	if partOffset >= size+8 {
		return [32]byte{}, fmt.Errorf("%w: offset %d, size %d", ErrPartOffsetOOB, partOffset, size)
	}
	key := LocalKey(ident, depositor, localContext)
	part := prefixedPart(size, word[:size], partOffset)
	if err := o.storePart(key, partOffset, part, size); err != nil {
		return [32]byte{}, err
	}
	o.log.Debug("Loaded local pre-image part", "ident", ident, "key", common.Hash(key), "offset", partOffset, "size", size)
	return key, nil
}

// LoadHashedPart makes the part at partOffset of the pre-image available, keyed by its hash.
func (o *Oracle) LoadHashedPart(partOffset uint64, preimage []byte, kind HashKind) ([32]byte, error) {
	size := uint64(len(preimage))
	if partOffset >= size+8 {
		return [32]byte{}, fmt.Errorf("%w: offset %d, size %d", ErrPartOffsetOOB, partOffset, size)
	}
	key, err := ContentKey(preimage, kind)
	if err != nil {
		return [32]byte{}, err
	}
	part := prefixedPart(size, preimage, partOffset)
	if err := o.storePart(key, partOffset, part, size); err != nil {
		return [32]byte{}, err
	}
	o.log.Debug("Loaded pre-image part", "kind", kind, "key", common.Hash(key), "offset", partOffset, "size", size)
	return key, nil
}

func (o *Oracle) storePart(key [32]byte, offset uint64, part [32]byte, size uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	// the length is fixed by the first part that is loaded
	lenKey := lengthDBKey(key)
	known, err := o.db.Has(lenKey)
	if err != nil {
		return fmt.Errorf("failed to look up pre-image length: %w", err)
	}
	if !known {
		if err := o.db.Put(lenKey, binary.BigEndian.AppendUint64(nil, size)); err != nil {
			return fmt.Errorf("failed to store pre-image length: %w", err)
		}
	}
	if err := o.db.Put(partDBKey(key, offset), part[:]); err != nil {
		return fmt.Errorf("failed to store pre-image part: %w", err)
	}
	return nil
}

// ReadPart returns the part at the given offset, and how many bytes of it are pre-image data.
// The available length is 32, unless the part is the last of the pre-image.
func (o *Oracle) ReadPart(key [32]byte, offset uint64) (dat [32]byte, datLen uint64, err error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, err := o.get(partDBKey(key, offset))
	if err != nil {
		return dat, 0, err
	}
	if v == nil {
		return dat, 0, fmt.Errorf("%w: key %x offset %d", ErrPreimageNotFound, key, offset)
	}
	copy(dat[:], v)
	size, err := o.length(key)
	if err != nil {
		return dat, 0, err
	}
	datLen = 32
	if total := size + 8; offset+32 >= total {
		datLen = total - offset
	}
	return dat, datLen, nil
}

// Length returns the size of the pre-image, excluding the length prefix. Unknown keys have length 0.
func (o *Oracle) Length(key [32]byte) (uint64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.length(key)
}

func (o *Oracle) length(key [32]byte) (uint64, error) {
	v, err := o.get(lengthDBKey(key))
	if err != nil || v == nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

func (o *Oracle) IsReady(key [32]byte, offset uint64) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.db.Has(partDBKey(key, offset))
}

// get returns nil without error if the key is not present.
func (o *Oracle) get(key []byte) ([]byte, error) {
	ok, err := o.db.Has(key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %x: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	v, err := o.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %x: %w", key, err)
	}
	return v, nil
}

// StagePart loads the part at offset of the pre-image data stored under key, and returns the key the part
// is available under. Raw local keys are localized to the depositor and local context.
func StagePart(o *Oracle, key [32]byte, data []byte, offset uint64, localContext common.Hash, depositor common.Address) ([32]byte, error) {
	switch preimage.KeyType(key[0]) {
	case preimage.LocalKeyType:
		ident, err := LocalIdent(key)
		if err != nil {
			return [32]byte{}, err
		}
		if len(data) > MaxLocalDataSize {
			return [32]byte{}, fmt.Errorf("%w: local data %d has %d bytes", ErrPartOffsetOOB, ident, len(data))
		}
		var word [32]byte
		copy(word[:], data)
		return o.LoadLocalPart(ident, localContext, word, uint64(len(data)), offset, depositor)
	case preimage.Keccak256KeyType:
		return o.LoadHashedPart(offset, data, HashKeccak256)
	case preimage.Sha256KeyType:
		return o.LoadHashedPart(offset, data, HashSha256)
	default:
		return [32]byte{}, fmt.Errorf("%w: key type %d", ErrUnsupportedHashKind, key[0])
	}
}
