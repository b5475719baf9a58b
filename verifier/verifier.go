// Package verifier implements the Commit Sequence Verifier (CSV): a
// small state machine that walks a linear sequence of decoded events and
// enforces the phase order a valid commit sequence must follow —
// Genesis, then any number of Transactions, then ExtraAgenda
// transactions, then exactly one Agenda, then its AgendaProof, then
// exactly one Block. It holds no I/O of its own; callers feed it events
// decoded by package semantic, typically walking a branch from its root
// via rawrepo.
package verifier

import (
	"fmt"

	"github.com/tolelom/repochain/chainstate"
	"github.com/tolelom/repochain/semantic"
)

// Phase names one state of the verifier.
type Phase string

const (
	PhaseStart          Phase = "start" // before Genesis has been applied
	PhaseTransactions   Phase = "transactions"
	PhaseExtraAgenda    Phase = "extra_agenda"
	PhaseAgendaOpen     Phase = "agenda_open"
	PhaseAgendaApproved Phase = "agenda_approved"
	PhaseBlockAwaiting  Phase = "block_awaiting"
	PhaseDone           Phase = "done" // after Block; a new sequence must start from PhaseTransactions
)

// ErrPhaseViolation reports an event that is not legal in the verifier's
// current phase.
type ErrPhaseViolation struct {
	Phase Phase
	Kind  semantic.Kind
}

func (e *ErrPhaseViolation) Error() string {
	return fmt.Sprintf("verifier: event kind %q is not valid in phase %q", e.Kind, e.Phase)
}

// ErrQuorumNotMet reports an AgendaProof or Block finalization whose
// signature weight does not meet the reserved state's quorum.
type ErrQuorumNotMet struct {
	Required int
	Got      int
}

func (e *ErrQuorumNotMet) Error() string {
	return fmt.Sprintf("verifier: quorum not met: got weight %d, need %d", e.Got, e.Required)
}

// ErrFinalizationProofInvalid reports a witness that does not reference
// the agenda it must cover: an AgendaProof whose AgendaHash is not the
// open agenda's, or a Block whose header names a different agenda than
// the approved one. A signature over the wrong digest is reported as
// *ErrQuorumNotMet instead.
type ErrFinalizationProofInvalid struct {
	Reason string
}

func (e *ErrFinalizationProofInvalid) Error() string {
	return fmt.Sprintf("verifier: invalid finalization proof: %s", e.Reason)
}

// Machine is one run of the verifier over a sequence of events.
type Machine struct {
	phase Phase
	state chainstate.ReservedState

	pendingAgenda   *semantic.Agenda
	pendingTxHashes map[string]bool
	lastBlock       *chainstate.BlockHeader
}

// New starts a Machine with no reserved state yet; the first event
// applied must be a Genesis.
func New() *Machine {
	return &Machine{phase: PhaseStart}
}

// Resume starts a Machine already seeded with the last finalized block
// header and reserved state, ready to accept the Transactions phase of
// the next sequence. Used by distributed.Node when walking a candidate
// branch forward from an already-finalized ancestor, rather than from
// Genesis.
func Resume(header chainstate.BlockHeader, state chainstate.ReservedState) *Machine {
	h := header
	return &Machine{
		phase:     PhaseTransactions,
		state:     state.Clone(),
		lastBlock: &h,
	}
}

// Phase returns the machine's current phase.
func (m *Machine) Phase() Phase { return m.phase }

// State returns the reserved state currently in effect.
func (m *Machine) State() chainstate.ReservedState { return m.state }

// LastBlock returns the most recently applied block header, or nil if
// none has been applied yet.
func (m *Machine) LastBlock() *chainstate.BlockHeader { return m.lastBlock }

// ApplyCommit advances the machine by one event. It returns
// *ErrPhaseViolation if ev is not legal in the current phase, or a
// domain-specific error (quorum, proof shape) for a structurally legal
// but invalid event.
func (m *Machine) ApplyCommit(ev semantic.Event) error {
	switch ev.Kind {
	case semantic.KindGenesis:
		return m.applyGenesis(ev.Genesis)
	case semantic.KindTransaction:
		return m.applyTransaction(ev.Transaction)
	case semantic.KindExtraAgendaTransaction:
		return m.applyExtraAgendaTransaction(ev.ExtraAgendaTransaction)
	case semantic.KindAgenda:
		return m.applyAgenda(ev.Agenda)
	case semantic.KindAgendaProof:
		return m.applyAgendaProof(ev.AgendaProof)
	case semantic.KindBlock:
		return m.applyBlock(ev.Block)
	default:
		return &ErrPhaseViolation{Phase: m.phase, Kind: ev.Kind}
	}
}

func (m *Machine) applyGenesis(g *semantic.Genesis) error {
	if m.phase != PhaseStart {
		return &ErrPhaseViolation{Phase: m.phase, Kind: semantic.KindGenesis}
	}
	m.state = g.ReservedState.Clone()
	m.phase = PhaseTransactions
	return nil
}

func (m *Machine) applyTransaction(_ *semantic.Transaction) error {
	if m.phase != PhaseTransactions {
		return &ErrPhaseViolation{Phase: m.phase, Kind: semantic.KindTransaction}
	}
	return nil
}

func (m *Machine) applyExtraAgendaTransaction(_ *semantic.ExtraAgendaTransaction) error {
	if m.phase != PhaseTransactions && m.phase != PhaseExtraAgenda {
		return &ErrPhaseViolation{Phase: m.phase, Kind: semantic.KindExtraAgendaTransaction}
	}
	m.phase = PhaseExtraAgenda
	return nil
}

func (m *Machine) applyAgenda(a *semantic.Agenda) error {
	if m.phase != PhaseTransactions && m.phase != PhaseExtraAgenda {
		return &ErrPhaseViolation{Phase: m.phase, Kind: semantic.KindAgenda}
	}
	m.pendingAgenda = a
	m.pendingTxHashes = make(map[string]bool, len(a.TxHashes))
	for _, h := range a.TxHashes {
		m.pendingTxHashes[h] = true
	}
	m.phase = PhaseAgendaOpen
	return nil
}

func (m *Machine) applyAgendaProof(p *semantic.AgendaProof) error {
	if m.phase != PhaseAgendaOpen {
		return &ErrPhaseViolation{Phase: m.phase, Kind: semantic.KindAgendaProof}
	}
	if m.pendingAgenda == nil || p.AgendaHash != m.pendingAgenda.Hash {
		return &ErrFinalizationProofInvalid{Reason: "agenda proof does not reference the open agenda"}
	}
	ok, err := p.Proof.MeetsQuorum(m.state)
	if err != nil {
		return err
	}
	if !ok {
		weight, _ := p.Proof.VerifiedWeight(m.state)
		return &ErrQuorumNotMet{Required: m.state.Quorum, Got: weight}
	}
	m.phase = PhaseAgendaApproved
	return nil
}

func (m *Machine) applyBlock(b *semantic.Block) error {
	if m.phase != PhaseAgendaApproved {
		return &ErrPhaseViolation{Phase: m.phase, Kind: semantic.KindBlock}
	}
	if m.pendingAgenda == nil || b.Header.AgendaHash != m.pendingAgenda.Hash {
		return &ErrFinalizationProofInvalid{Reason: "block header does not reference the approved agenda"}
	}
	if b.ReservedState != nil {
		m.state = b.ReservedState.Clone()
	}
	header := b.Header
	m.lastBlock = &header
	m.pendingAgenda = nil
	m.pendingTxHashes = nil
	m.phase = PhaseTransactions
	return nil
}

// VerifyFinalizationProof checks a standalone FinalizationProof against
// rs without requiring a Machine — used by distributed.Node to check a
// peer-supplied finalization proof before adopting it.
func VerifyFinalizationProof(fp chainstate.FinalizationProof, rs chainstate.ReservedState) error {
	ok, err := fp.Verify(rs)
	if err != nil {
		return err
	}
	if !ok {
		weight, _ := fp.Proof.VerifiedWeight(rs)
		return &ErrQuorumNotMet{Required: rs.Quorum, Got: weight}
	}
	return nil
}
