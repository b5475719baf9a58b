// Package semantic implements the Semantic Commit Codec (SCC): a pure,
// side-effect-free mapping between rawrepo.SemanticCommit (a title, a
// body, and an optional reserved-state snapshot) and the closed set of
// typed events the rest of the system reasons about. Encode and Decode
// never touch disk or the network — everything they need is passed in,
// everything they produce is returned.
package semantic

import (
	"encoding/json"

	"github.com/tolelom/repochain/chainstate"
	"github.com/tolelom/repochain/ledger"
)

// Kind identifies which of the closed set of event shapes a commit
// encodes. The verifier's phase machine switches on this.
type Kind string

const (
	KindGenesis               Kind = "genesis"
	KindTransaction           Kind = "transaction"
	KindExtraAgendaTransaction Kind = "extra_agenda_transaction"
	KindAgenda                Kind = "agenda"
	KindAgendaProof           Kind = "agenda_proof"
	KindBlock                 Kind = "block"
)

// Genesis is the first event of a repository's history, committed
// directly atop the empty initial commit. It carries the initial
// reserved state.
type Genesis struct {
	ReservedState chainstate.ReservedState `json:"reserved_state"`
	Timestamp     int64                    `json:"timestamp"`
}

// Transaction carries one ordinary ledger transaction, admitted during
// the verifier's Transactions phase.
type Transaction struct {
	Tx ledger.Transaction `json:"tx"`
}

// ExtraAgendaTransaction carries a privileged transaction admitted only
// during the verifier's ExtraAgenda phase (e.g. a validator set change).
type ExtraAgendaTransaction struct {
	Tx ledger.Transaction `json:"tx"`
}

// Agenda closes the Transactions/ExtraAgenda phases and proposes the
// ordered set of transaction hashes to be finalized together.
type Agenda struct {
	Height    int64    `json:"height"`
	Author    string   `json:"author"`
	Timestamp int64    `json:"timestamp"`
	TxHashes  []string `json:"tx_hashes"`
	Hash      string   `json:"hash"`
}

// AgendaProof carries the multi-signature quorum witness that an Agenda
// was approved, moving the verifier from AgendaOpen to AgendaApproved.
type AgendaProof struct {
	AgendaHash string             `json:"agenda_hash"`
	Proof      chainstate.MultiSig `json:"proof"`
}

// Block closes an approved agenda into a finalized block header,
// optionally carrying an updated reserved-state snapshot.
type Block struct {
	Header        chainstate.BlockHeader    `json:"header"`
	ReservedState *chainstate.ReservedState `json:"reserved_state,omitempty"`
}

// Event is the decoded form of a semantic commit: exactly one of the
// typed payload fields is non-nil, selected by Kind.
type Event struct {
	Kind Kind `json:"kind"`

	Genesis                *Genesis                `json:"genesis,omitempty"`
	Transaction            *Transaction            `json:"transaction,omitempty"`
	ExtraAgendaTransaction *ExtraAgendaTransaction `json:"extra_agenda_transaction,omitempty"`
	Agenda                 *Agenda                 `json:"agenda,omitempty"`
	AgendaProof            *AgendaProof            `json:"agenda_proof,omitempty"`
	Block                  *Block                  `json:"block,omitempty"`
}

// titleFor returns the single-line human-readable commit title for an
// event kind, used by Encode. Decode does not parse the title — it is
// cosmetic; all structure lives in the JSON body.
func titleFor(kind Kind) string {
	switch kind {
	case KindGenesis:
		return "genesis"
	case KindTransaction:
		return "tx"
	case KindExtraAgendaTransaction:
		return "extra-agenda-tx"
	case KindAgenda:
		return "agenda"
	case KindAgendaProof:
		return "agenda-proof"
	case KindBlock:
		return "block"
	default:
		return string(kind)
	}
}
