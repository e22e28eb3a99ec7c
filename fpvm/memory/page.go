package memory

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Note: 2**12 = 4 KiB, the page-size used for mmap alignment.
const (
	PageAddrSize = 12
	PageKeySize  = 64 - PageAddrSize
	PageSize     = 1 << PageAddrSize
	PageAddrMask = PageSize - 1
	PageKeyMask  = (1 << PageKeySize) - 1
)

type Page [PageSize]byte

func (p *Page) MarshalText() ([]byte, error) {
	return hexutil.Bytes(p[:]).MarshalText()
}

func (p *Page) UnmarshalText(dat []byte) error {
	var b hexutil.Bytes
	if err := b.UnmarshalText(dat); err != nil {
		return err
	}
	if len(b) != PageSize {
		return fmt.Errorf("invalid page length %d", len(b))
	}
	copy(p[:], b)
	return nil
}

// CachedPage caches the merkle nodes of the page.
// Cache[1] is the page root, Cache[PageSize/64 ... PageSize/32-1] hash pairs of 32 byte leaves.
type CachedPage struct {
	Data  *Page
	Cache [PageSize / 32][32]byte
	Ok    [PageSize / 32]bool
}

func (p *CachedPage) Invalidate(pageAddr uint64) {
	if pageAddr >= PageSize {
		panic("invalid page addr")
	}
	// first cache layer caches nodes that have two 32 byte leaf nodes.
	k := ((1 << PageAddrSize) | pageAddr) >> 6
	for k > 0 {
		p.Ok[k] = false
		k >>= 1
	}
}

func (p *CachedPage) InvalidateFull() {
	p.Ok = [PageSize / 32]bool{}
}

func (p *CachedPage) MerkleRoot() [32]byte {
	// hash the bottom layer
	for i := uint64(0); i < PageSize; i += 64 {
		j := PageSize/32/2 + i/64
		if p.Ok[j] {
			continue
		}
		p.Cache[j] = crypto.Keccak256Hash(p.Data[i : i+64])
		p.Ok[j] = true
	}
	// hash the cache layers
	for i := PageSize/32 - 2; i > 0; i -= 2 {
		j := i >> 1
		if p.Ok[j] {
			continue
		}
		p.Cache[j] = HashPair(p.Cache[i], p.Cache[i+1])
		p.Ok[j] = true
	}
	return p.Cache[1]
}

// MerkleizeSubtree returns the node at the page-local gindex (1 = page root).
func (p *CachedPage) MerkleizeSubtree(gindex uint64) [32]byte {
	_ = p.MerkleRoot() // fill cache
	if gindex >= PageSize/32 {
		if gindex >= PageSize/32*2 {
			panic("gindex too deep")
		}
		// it's pointing to a bottom node
		nodeIndex := gindex & (PageAddrMask >> 5)
		return *(*[32]byte)(p.Data[nodeIndex*32 : nodeIndex*32+32])
	}
	return p.Cache[gindex]
}
