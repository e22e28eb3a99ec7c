package mipsevm

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/okx/xlayer-fault-proof/fpvm/oracle"
)

type StepWitness struct {
	// encoded state witness
	State StateWitness

	MemProof []byte

	PreimageKey    [32]byte // zeroed when no pre-image is accessed
	PreimageValue  []byte   // including the 8-byte length prefix
	PreimageOffset uint64
}

func (wit *StepWitness) HasPreimage() bool {
	return wit.PreimageKey != ([32]byte{})
}

// StageOracle loads the pre-image part read by the step into the oracle,
// so the step can be replayed by a SyscallExecutor. It returns the key the part is stored under.
func (wit *StepWitness) StageOracle(o *oracle.Oracle, localContext common.Hash, depositor common.Address) ([32]byte, error) {
	if !wit.HasPreimage() {
		return [32]byte{}, errors.New("cannot stage pre-image, witness has no pre-image to proof")
	}
	if len(wit.PreimageValue) < 8 {
		return [32]byte{}, fmt.Errorf("pre-image value of key %x misses the length prefix", wit.PreimageKey)
	}
	return oracle.StagePart(o, wit.PreimageKey, wit.PreimageValue[8:], wit.PreimageOffset, localContext, depositor)
}
