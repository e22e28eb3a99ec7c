package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"path/filepath"
	"testing"

	preimage "github.com/ethereum-optimism/optimism/op-preimage"
	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
)

var (
	depositor = common.HexToAddress("0x5b38da6a701c568545dcfcb03fcb875f56beddc4")
	localCtx  = common.HexToHash("0x1234")
)

func TestKeys(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		key := LocalKey(1, depositor, localCtx)
		require.Equal(t, byte(preimage.LocalKeyType), key[0])
		require.Equal(t, key, LocalKey(1, depositor, localCtx), "stable")

		var raw [32]byte
		raw[0] = 1
		raw[31] = 1
		expected := crypto.Keccak256(raw[:], common.LeftPadBytes(depositor[:], 32), localCtx[:])
		require.Equal(t, expected[1:], key[1:])

		require.NotEqual(t, key, LocalKey(2, depositor, localCtx), "ident")
		require.NotEqual(t, key, LocalKey(1, common.Address{1}, localCtx), "depositor")
		require.NotEqual(t, key, LocalKey(1, depositor, common.Hash{}), "local context")
	})
	t.Run("keccak256", func(t *testing.T) {
		data := []byte("hello world")
		key := Keccak256Key(data)
		h := crypto.Keccak256(data)
		require.Equal(t, byte(preimage.Keccak256KeyType), key[0])
		require.Equal(t, h[1:], key[1:])
		data[0] ^= 1
		require.NotEqual(t, key, Keccak256Key(data))
	})
	t.Run("sha256", func(t *testing.T) {
		data := []byte("hello world")
		key := Sha256Key(data)
		h := sha256.Sum256(data)
		require.Equal(t, byte(preimage.Sha256KeyType), key[0])
		require.Equal(t, h[1:], key[1:])
	})
	t.Run("unsupported kind", func(t *testing.T) {
		_, err := ContentKey(nil, HashKind(7))
		require.ErrorIs(t, err, ErrUnsupportedHashKind)
	})
	t.Run("local ident", func(t *testing.T) {
		ident, err := LocalIdent(preimage.LocalIndexKey(0xabcdef).PreimageKey())
		require.NoError(t, err)
		require.Equal(t, uint64(0xabcdef), ident)
		_, err = LocalIdent(LocalKey(1, depositor, localCtx))
		require.Error(t, err, "localized keys carry no ident")
		_, err = LocalIdent(Keccak256Key(nil))
		require.Error(t, err)
	})
}

func TestLoadLocalPart(t *testing.T) {
	o := NewMemoryOracle(testlog.Logger(t, log.LevelInfo))
	word := [32]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee}

	key, err := o.LoadLocalPart(1, localCtx, word, 5, 0, depositor)
	require.NoError(t, err)
	require.Equal(t, LocalKey(1, depositor, localCtx), key)

	ready, err := o.IsReady(key, 0)
	require.NoError(t, err)
	require.True(t, ready)
	ready, err = o.IsReady(key, 1)
	require.NoError(t, err)
	require.False(t, ready)

	part, datLen, err := o.ReadPart(key, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(5), binary.BigEndian.Uint64(part[:8]), "length prefix")
	require.Equal(t, word[:5], part[8:13])
	require.Equal(t, make([]byte, 19), part[13:], "zero padded")
	require.Equal(t, uint64(13), datLen)

	size, err := o.Length(key)
	require.NoError(t, err)
	require.Equal(t, uint64(5), size)

	t.Run("offset within data", func(t *testing.T) {
		key, err := o.LoadLocalPart(1, localCtx, word, 5, 9, depositor)
		require.NoError(t, err)
		part, datLen, err := o.ReadPart(key, 9)
		require.NoError(t, err)
		require.Equal(t, word[1:5], part[:4])
		require.Equal(t, uint64(4), datLen)
	})
	t.Run("size too large", func(t *testing.T) {
		_, err := o.LoadLocalPart(1, localCtx, word, 33, 0, depositor)
		require.ErrorIs(t, err, ErrPartOffsetOOB)
	})
	t.Run("offset out of bounds", func(t *testing.T) {
		_, err := o.LoadLocalPart(1, localCtx, word, 5, 13, depositor)
		require.ErrorIs(t, err, ErrPartOffsetOOB)
	})
	t.Run("length fixed at first load", func(t *testing.T) {
		_, err := o.LoadLocalPart(1, localCtx, word, 8, 1, depositor)
		require.NoError(t, err)
		size, err := o.Length(key)
		require.NoError(t, err)
		require.Equal(t, uint64(5), size)
	})
}

func TestLoadHashedPart(t *testing.T) {
	data := make([]byte, 40)
	for i := range data {
		data[i] = byte(i + 1)
	}
	for _, kind := range []HashKind{HashKeccak256, HashSha256} {
		t.Run(kind.String(), func(t *testing.T) {
			o := NewMemoryOracle(testlog.Logger(t, log.LevelInfo))
			expectedKey, err := ContentKey(data, kind)
			require.NoError(t, err)

			key, err := o.LoadHashedPart(0, data, kind)
			require.NoError(t, err)
			require.Equal(t, expectedKey, key)
			require.Equal(t, byte(kind.KeyType()), key[0])

			part, datLen, err := o.ReadPart(key, 0)
			require.NoError(t, err)
			require.Equal(t, uint64(40), binary.BigEndian.Uint64(part[:8]))
			require.Equal(t, data[:24], part[8:])
			require.Equal(t, uint64(32), datLen)

			_, err = o.LoadHashedPart(32, data, kind)
			require.NoError(t, err)
			part, datLen, err = o.ReadPart(key, 32)
			require.NoError(t, err)
			require.Equal(t, data[24:], part[:16])
			require.Equal(t, uint64(16), datLen, "last part is clamped")

			_, err = o.LoadHashedPart(48, data, kind)
			require.ErrorIs(t, err, ErrPartOffsetOOB)
		})
	}
	t.Run("not loaded", func(t *testing.T) {
		o := NewMemoryOracle(testlog.Logger(t, log.LevelInfo))
		_, _, err := o.ReadPart(Keccak256Key(data), 0)
		require.ErrorIs(t, err, ErrPreimageNotFound)
	})
	t.Run("empty pre-image", func(t *testing.T) {
		o := NewMemoryOracle(testlog.Logger(t, log.LevelInfo))
		key, err := o.LoadHashedPart(0, nil, HashKeccak256)
		require.NoError(t, err)
		part, datLen, err := o.ReadPart(key, 0)
		require.NoError(t, err)
		require.Equal(t, [32]byte{}, part)
		require.Equal(t, uint64(8), datLen)
	})
}

func TestLevelDBStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preimages")
	db, err := NewLevelDBStore(path)
	require.NoError(t, err)
	o := NewOracle(db, testlog.Logger(t, log.LevelInfo))
	key, err := o.LoadHashedPart(0, []byte("persisted"), HashKeccak256)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewLevelDBStore(path)
	require.NoError(t, err)
	defer db.Close()
	o = NewOracle(db, testlog.Logger(t, log.LevelInfo))
	part, datLen, err := o.ReadPart(key, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(17), datLen)
	require.Equal(t, []byte("persisted"), part[8:17])
}

func TestStagePart(t *testing.T) {
	o := NewMemoryOracle(testlog.Logger(t, log.LevelInfo))

	t.Run("local", func(t *testing.T) {
		key, err := StagePart(o, preimage.LocalIndexKey(3).PreimageKey(), []byte{1, 2, 3}, 0, localCtx, depositor)
		require.NoError(t, err)
		require.Equal(t, LocalKey(3, depositor, localCtx), key)
		part, datLen, err := o.ReadPart(key, 0)
		require.NoError(t, err)
		require.Equal(t, []byte{1, 2, 3}, part[8:11])
		require.Equal(t, uint64(11), datLen)
	})
	t.Run("oversized local data", func(t *testing.T) {
		_, err := StagePart(o, preimage.LocalIndexKey(4).PreimageKey(), make([]byte, MaxLocalDataSize+1), 0, localCtx, depositor)
		require.ErrorIs(t, err, ErrPartOffsetOOB)
	})
	t.Run("localized key", func(t *testing.T) {
		_, err := StagePart(o, LocalKey(3, depositor, localCtx), []byte{1}, 0, localCtx, depositor)
		require.Error(t, err)
	})
	t.Run("sha256", func(t *testing.T) {
		data := []byte("some longer pre-image content, more than a word")
		key, err := StagePart(o, Sha256Key(data), data, 13, localCtx, depositor)
		require.NoError(t, err)
		require.Equal(t, Sha256Key(data), key)
		_, _, err = o.ReadPart(key, 13)
		require.NoError(t, err)
	})
	t.Run("keccak256", func(t *testing.T) {
		data := []byte("keccak content")
		key, err := StagePart(o, Keccak256Key(data), data, 0, localCtx, depositor)
		require.NoError(t, err)
		require.Equal(t, Keccak256Key(data), key)
	})
	t.Run("unsupported key type", func(t *testing.T) {
		var key [32]byte
		key[0] = byte(preimage.BlobKeyType)
		_, err := StagePart(o, key, []byte{1}, 0, localCtx, depositor)
		require.ErrorIs(t, err, ErrUnsupportedHashKind)
	})
}

type hint string

func (h hint) Hint() string {
	return string(h)
}

func TestServer(t *testing.T) {
	preimages := NewPreimages()
	data := []byte("served over a pipe")
	key := preimages.AddPreimage(data)

	var hints []string
	srv := NewServer(preimages, func(h string) error {
		hints = append(hints, h)
		return nil
	}, testlog.Logger(t, log.LevelInfo))

	pClient, pHost, err := preimage.CreateBidirectionalChannel()
	require.NoError(t, err)
	hClient, hHost, err := preimage.CreateBidirectionalChannel()
	require.NoError(t, err)

	ctx := context.Background()
	pDone := make(chan error, 1)
	hDone := make(chan error, 1)
	go func() { pDone <- srv.ServePreimages(ctx, pHost) }()
	go func() { hDone <- srv.ServeHints(ctx, hHost) }()

	preimage.NewHintWriter(hClient).Hint(hint("l2-block 0x1"))
	got := preimage.NewOracleClient(pClient).Get(preimage.Keccak256Key(crypto.Keccak256Hash(data)))
	require.Equal(t, data, got)

	require.NoError(t, pClient.Close())
	require.NoError(t, hClient.Close())
	require.NoError(t, <-pDone)
	require.NoError(t, <-hDone)
	require.Equal(t, []string{"l2-block 0x1"}, hints)
	require.Equal(t, key, common.Hash(Keccak256Key(data)))
}
