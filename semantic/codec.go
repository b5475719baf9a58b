package semantic

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/repochain/chainstate"
	"github.com/tolelom/repochain/rawrepo"
)

// ErrDecode wraps any failure to recover a well-formed Event from a
// rawrepo.SemanticCommit.
type ErrDecode struct {
	Hash rawrepo.Hash
	Msg  string
	Err  error
}

func (e *ErrDecode) Error() string {
	return fmt.Sprintf("semantic: decode %s: %s: %v", e.Hash, e.Msg, e.Err)
}

func (e *ErrDecode) Unwrap() error { return e.Err }

// Encode converts a typed event into the commit shape RR stores. Only
// Genesis and Block carry a reserved-state snapshot (the other payload
// types have no field for one); Decode rejects a snapshot attached to
// any other kind.
func Encode(ev Event) (rawrepo.SemanticCommit, error) {
	if err := validate(ev); err != nil {
		return rawrepo.SemanticCommit{}, err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return rawrepo.SemanticCommit{}, fmt.Errorf("semantic: encode: %w", err)
	}
	sc := rawrepo.SemanticCommit{
		Title: titleFor(ev.Kind),
		Body:  body,
	}
	switch ev.Kind {
	case KindGenesis:
		state, err := json.Marshal(ev.Genesis.ReservedState)
		if err != nil {
			return rawrepo.SemanticCommit{}, fmt.Errorf("semantic: encode genesis reserved state: %w", err)
		}
		sc.ReservedState = state
	case KindBlock:
		if ev.Block.ReservedState != nil {
			state, err := json.Marshal(ev.Block.ReservedState)
			if err != nil {
				return rawrepo.SemanticCommit{}, fmt.Errorf("semantic: encode block reserved state: %w", err)
			}
			sc.ReservedState = state
		}
	}
	return sc, nil
}

// Decode recovers a typed event from a commit's stored shape. hash is
// used only to annotate errors.
func Decode(hash rawrepo.Hash, sc rawrepo.SemanticCommit) (Event, error) {
	var ev Event
	if err := json.Unmarshal(sc.Body, &ev); err != nil {
		return Event{}, &ErrDecode{Hash: hash, Msg: "malformed event body", Err: err}
	}
	if err := validate(ev); err != nil {
		return Event{}, &ErrDecode{Hash: hash, Msg: "schema violation", Err: err}
	}
	if ev.Kind != KindGenesis && ev.Kind != KindBlock && sc.ReservedState != nil {
		return Event{}, &ErrDecode{Hash: hash, Msg: "reserved state attached to a non-mutating event kind", Err: fmt.Errorf("kind %q may not carry a reserved-state snapshot", ev.Kind)}
	}
	if ev.Kind == KindGenesis && sc.ReservedState != nil {
		if err := json.Unmarshal(sc.ReservedState, &ev.Genesis.ReservedState); err != nil {
			return Event{}, &ErrDecode{Hash: hash, Msg: "malformed reserved state", Err: err}
		}
	}
	if ev.Kind == KindBlock && sc.ReservedState != nil {
		state := new(chainstate.ReservedState)
		if err := json.Unmarshal(sc.ReservedState, state); err != nil {
			return Event{}, &ErrDecode{Hash: hash, Msg: "malformed reserved state", Err: err}
		}
		ev.Block.ReservedState = state
	}
	return ev, nil
}

// validate enforces the closed-set invariant: exactly one payload field
// set, matching Kind.
func validate(ev Event) error {
	count := 0
	check := func(set bool) {
		if set {
			count++
		}
	}
	check(ev.Genesis != nil)
	check(ev.Transaction != nil)
	check(ev.ExtraAgendaTransaction != nil)
	check(ev.Agenda != nil)
	check(ev.AgendaProof != nil)
	check(ev.Block != nil)
	if count != 1 {
		return fmt.Errorf("semantic: event must carry exactly one payload, got %d", count)
	}
	switch ev.Kind {
	case KindGenesis:
		if ev.Genesis == nil {
			return fmt.Errorf("semantic: kind %q without matching payload", ev.Kind)
		}
	case KindTransaction:
		if ev.Transaction == nil {
			return fmt.Errorf("semantic: kind %q without matching payload", ev.Kind)
		}
	case KindExtraAgendaTransaction:
		if ev.ExtraAgendaTransaction == nil {
			return fmt.Errorf("semantic: kind %q without matching payload", ev.Kind)
		}
	case KindAgenda:
		if ev.Agenda == nil {
			return fmt.Errorf("semantic: kind %q without matching payload", ev.Kind)
		}
	case KindAgendaProof:
		if ev.AgendaProof == nil {
			return fmt.Errorf("semantic: kind %q without matching payload", ev.Kind)
		}
	case KindBlock:
		if ev.Block == nil {
			return fmt.Errorf("semantic: kind %q without matching payload", ev.Kind)
		}
	default:
		return fmt.Errorf("semantic: unknown event kind %q", ev.Kind)
	}
	return nil
}
