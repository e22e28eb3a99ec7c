package memory

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryMerkleProof(t *testing.T) {
	t.Run("nearly empty tree", func(t *testing.T) {
		m := NewMemory()
		m.SetWord(0x10000, 0xaabbccdd_00000000)
		proof := m.MerkleProof(0x10000)
		require.Equal(t, uint32(0xaabbccdd), binary.BigEndian.Uint32(proof[:4]))
		for i := 0; i < 64-5; i++ {
			require.Equal(t, ZeroHashes[i][:], proof[32+i*32:32+i*32+32], "empty siblings")
		}
	})
	t.Run("fuller tree", func(t *testing.T) {
		m := NewMemory()
		m.SetWord(0x1002221234200, 0xaabbccdd)
		m.SetWord(0x8002212342200, 42<<24)
		m.SetWord(0x1337022212342000, 123)
		root := m.MerkleRoot()
		proof := m.MerkleProof(0x8002212342200)
		require.Equal(t, uint64(42<<24), binary.BigEndian.Uint64(proof[0:8]))
		node := *(*[32]byte)(proof[:32])
		path := uint64(0x8002212342200) >> 5
		for i := 32; i < len(proof); i += 32 {
			sib := *(*[32]byte)(proof[i : i+32])
			if path&1 != 0 {
				node = HashPair(sib, node)
			} else {
				node = HashPair(node, sib)
			}
			path >>= 1
		}
		require.Equal(t, root, node, "proof must verify")
	})
}

func TestMemoryMerkleRoot(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		m := NewMemory()
		root := m.MerkleRoot()
		require.Equal(t, ZeroHashes[64-5], root, "fully zeroed memory should have expected zero hash")
	})
	t.Run("empty page", func(t *testing.T) {
		m := NewMemory()
		m.SetWord(0xF000, 0)
		root := m.MerkleRoot()
		require.Equal(t, ZeroHashes[64-5], root, "fully zeroed memory should have expected zero hash")
	})
	t.Run("single page", func(t *testing.T) {
		m := NewMemory()
		m.SetWord(0xF000, 1)
		root := m.MerkleRoot()
		require.NotEqual(t, ZeroHashes[64-5], root, "non-zero memory")
	})
	t.Run("two empty pages", func(t *testing.T) {
		m := NewMemory()
		m.SetWord(PageSize*3, 0)
		m.SetWord(PageSize*10, 0)
		root := m.MerkleRoot()
		require.Equal(t, ZeroHashes[64-5], root, "zero still")
	})
	t.Run("invalidate page", func(t *testing.T) {
		m := NewMemory()
		m.SetWord(0xF000, 0)
		require.Equal(t, ZeroHashes[64-5], m.MerkleRoot(), "zero at first")
		m.SetWord(0xF008, 1)
		require.NotEqual(t, ZeroHashes[64-5], m.MerkleRoot(), "non-zero")
		m.SetWord(0xF008, 0)
		require.Equal(t, ZeroHashes[64-5], m.MerkleRoot(), "zero again")
	})
}

func TestReadWord(t *testing.T) {
	m := NewMemory()
	m.SetWord(0x1000, 0x1122334455667788)
	m.SetWord(0x1008, 0x99aabbccddeeff00)
	m.SetWord(0x7fff_0000_0018, 0xdeadbeef)
	root := m.MerkleRoot()

	t.Run("valid", func(t *testing.T) {
		for addr, expected := range map[uint64]uint64{
			0x1000:           0x1122334455667788,
			0x1008:           0x99aabbccddeeff00,
			0x1010:           0,
			0x7fff_0000_0018: 0xdeadbeef,
			0x5000:           0,
		} {
			v, err := ReadWord(root, addr, m.Proof(addr))
			require.NoError(t, err)
			require.Equalf(t, expected, v, "word at %x", addr)
			require.True(t, IsValidProof(root, addr, m.Proof(addr)))
		}
	})
	t.Run("misaligned", func(t *testing.T) {
		_, err := ReadWord(root, 0x1004, m.Proof(0x1000))
		require.ErrorIs(t, err, ErrInvalidAddress)
	})
	t.Run("wrong root", func(t *testing.T) {
		_, err := ReadWord([32]byte{1}, 0x1000, m.Proof(0x1000))
		require.ErrorIs(t, err, ErrInvalidMemoryProof)
		require.False(t, IsValidProof([32]byte{1}, 0x1000, m.Proof(0x1000)))
	})
	t.Run("proof of other branch", func(t *testing.T) {
		_, err := ReadWord(root, 0x1000, m.Proof(0x7fff_0000_0018))
		require.ErrorIs(t, err, ErrInvalidMemoryProof)
	})
	t.Run("tampered leaf", func(t *testing.T) {
		p := m.Proof(0x1000)
		p[0][3] ^= 1
		require.False(t, IsValidProof(root, 0x1000, p))
	})
}

func TestWriteWord(t *testing.T) {
	addrs := []uint64{0, 8, 0x18, 0x1000, 0x1338, 0xffff_ffff_ffff_fff8}
	for _, addr := range addrs {
		m := NewMemory()
		m.SetWord(addr^0x20, 0x0102030405060708) // a neighbouring leaf
		proof := m.Proof(addr)
		root := m.MerkleRoot()
		require.True(t, IsValidProof(root, addr, proof))

		newRoot, err := WriteWord(addr, proof, 0xcafebabe_f00dface)
		require.NoError(t, err)

		m.SetWord(addr, 0xcafebabe_f00dface)
		require.Equal(t, m.MerkleRoot(), newRoot, "root computed from proof must match full memory")

		written := proof.WithLeaf(SpliceWord(proof.Leaf(), addr, 0xcafebabe_f00dface))
		v, err := ReadWord(newRoot, addr, written)
		require.NoError(t, err)
		require.Equal(t, uint64(0xcafebabe_f00dface), v)

		// the old proof no longer matches
		_, err = ReadWord(newRoot, addr, proof)
		require.ErrorIs(t, err, ErrInvalidMemoryProof)
	}

	t.Run("misaligned", func(t *testing.T) {
		m := NewMemory()
		_, err := WriteWord(0x1001, m.Proof(0x1000), 1)
		require.ErrorIs(t, err, ErrInvalidAddress)
	})
}

func TestProofAt(t *testing.T) {
	m := NewMemory()
	m.SetWord(0x40, 7)
	m.SetWord(0x2000, 9)
	p0 := m.MerkleProof(0x40)
	p1 := m.MerkleProof(0x2000)
	data := append(append([]byte{}, p0[:]...), p1[:]...)

	got, err := ProofAt(data, 1)
	require.NoError(t, err)
	require.Equal(t, p1[:], got.Encode())

	_, err = ProofAt(data, 2)
	require.ErrorIs(t, err, ErrInsufficientProofData)

	_, err = ProofAt(data[:ProofSize*2-1], 1)
	require.ErrorIs(t, err, ErrInsufficientProofData, "truncated data is not zero-filled")

	_, err = ProofFromBytes(data)
	require.ErrorIs(t, err, ErrInsufficientProofData)
}

func TestMemoryReadWrite(t *testing.T) {
	t.Run("large random", func(t *testing.T) {
		m := NewMemory()
		data := make([]byte, 20_000)
		_, err := rand.Read(data[:])
		require.NoError(t, err)
		require.NoError(t, m.SetMemoryRange(0, bytes.NewReader(data)))
		for _, i := range []uint64{0, 8, 1000, 3328, 4088, 4096, 4104, 20_000 - 8} {
			require.Equalf(t, binary.BigEndian.Uint64(data[i:i+8]), m.GetWord(i), "read at %d", i)
		}
	})

	t.Run("range updates root", func(t *testing.T) {
		m := NewMemory()
		before := m.MerkleRoot()
		require.NoError(t, m.SetMemoryRange(0x3000, bytes.NewReader([]byte{1, 2, 3})))
		require.NotEqual(t, before, m.MerkleRoot())
	})

	t.Run("unaligned range", func(t *testing.T) {
		m := NewMemory()
		data := []byte(strings.Repeat("under the big bright yellow sun ", 40))
		require.NoError(t, m.SetMemoryRange(0x1338, bytes.NewReader(data)))
		require.Equal(t, binary.BigEndian.Uint64(data[:8]), m.GetWord(0x1338))
		require.Zero(t, m.GetWord(0x1330), "empty start")
		end := 0x1338 + uint64(len(data))
		require.Zero(t, m.GetWord(end), "empty end")
		require.Equal(t, binary.BigEndian.Uint64(data[len(data)-8:]), m.GetWord(end-8))
	})
}

func TestMemoryJSON(t *testing.T) {
	m := NewMemory()
	m.SetWord(8, 123)
	dat, err := json.Marshal(m)
	require.NoError(t, err)
	res := NewMemory()
	require.NoError(t, json.Unmarshal(dat, res))
	require.Equal(t, uint64(123), res.GetWord(8))
	require.Equal(t, m.MerkleRoot(), res.MerkleRoot())
}

func TestMemoryUsage(t *testing.T) {
	m := NewMemory()
	require.Equal(t, "0 B", m.Usage())
	m.SetWord(0, 1)
	require.Equal(t, 1, m.PageCount())
	require.Equal(t, "4.0 KiB", m.Usage())
	require.NoError(t, m.SetMemoryRange(0x10000, bytes.NewReader(make([]byte, 2*PageSize-8))))
	require.Equal(t, 3, m.PageCount())
	require.Equal(t, "12.0 KiB", m.Usage())
}
