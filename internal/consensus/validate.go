package consensus

import (
	"fmt"

	"github.com/nxtnode/nxtnode/internal/chain"
)

// ValidationError is returned by ValidateBlock for a consensus rejection;
// it carries the specific reason rather than leaking an internal type name.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("consensus rejected: %s", e.Reason)
}

// ValidateBlock runs the consensus portion of block validity: recomputed
// baseTarget and generationSignature must match the candidate's declared
// values, and the generator's hit must beat the target. Any failure is
// reported as a *ValidationError (ConsensusRejected); a panic during
// recomputation is never expected to occur here, but if surrounding code
// ever recovers one it should be treated identically to a validation
// failure, per the spec's "exceptions are rejection" principle.
func ValidateBlock(candidate *chain.Block, parent chain.ConsensusData, parentTimestampMs uint64, balance EffectiveBalanceFunc) error {
	wantBaseTarget := BaseTarget(parent, parentTimestampMs, candidate.Timestamp)
	if candidate.Consensus.BaseTarget != wantBaseTarget {
		return &ValidationError{Reason: fmt.Sprintf(
			"baseTarget mismatch: declared %d, recomputed %d", candidate.Consensus.BaseTarget, wantBaseTarget)}
	}

	wantSig := GeneratorSignature(parent, candidate.Generator)
	if candidate.Consensus.GenerationSignature != wantSig {
		return &ValidationError{Reason: "generationSignature does not match recomputed value"}
	}

	if !Eligible(parent, parentTimestampMs, candidate.Timestamp, candidate.Generator, balance) {
		return &ValidationError{Reason: "hit does not beat target"}
	}

	return nil
}
