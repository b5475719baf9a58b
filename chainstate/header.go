package chainstate

import "github.com/tolelom/repochain/rawrepo"

// BlockHeader is the metadata a Block event commits to. PrevHash links
// it to the previously finalized block's commit, forming the finalized
// chain independently of the underlying commit graph's own parent
// links (a block's commit parent is its agenda proof's commit, not the
// previous block's commit).
type BlockHeader struct {
	Height     int64        `json:"height"`
	PrevHash   rawrepo.Hash `json:"prev_hash"`
	StateRoot  string       `json:"state_root"`
	AgendaHash string       `json:"agenda_hash"`
	Timestamp  int64        `json:"timestamp"`
	Proposer   string       `json:"proposer"`
}

// FinalizationProof is the multi-signature quorum witness that
// BlockHash at Height has been finalized. It shares MultiSig's shape
// with AgendaProof but is kept as a distinct named type because the two
// are never interchangeable: an agenda proof witnesses approval of a
// proposed transaction set, a finalization proof witnesses commitment
// of a block header.
type FinalizationProof struct {
	Height     int64       `json:"height"`
	BlockHash  rawrepo.Hash `json:"block_hash"`
	Proof      MultiSig    `json:"proof"`
}

// Verify checks fp's embedded MultiSig against rs and returns whether it
// meets quorum.
func (fp FinalizationProof) Verify(rs ReservedState) (bool, error) {
	return fp.Proof.MeetsQuorum(rs)
}
