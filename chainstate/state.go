// Package chainstate defines the governance data consulted and produced
// by the commit sequence verifier (package verifier): the validator set
// and quorum rule (ReservedState), block headers, and the cryptographic
// witnesses (MultiSig, FinalizationProof) that move the verifier between
// phases. These types are shared between semantic,
// verifier, and distributed so none of those packages need to import
// each other's internals to talk about the same wire shapes.
package chainstate

import (
	"sort"

	"github.com/tolelom/repochain/crypto"
)

// Validator is one member of the governance set: a weighted signer.
type Validator struct {
	PubKeyHex string `json:"pub_key"`
	Weight    int    `json:"weight"`
}

// ReservedState is the validator set and quorum rule consulted by the
// verifier. It is updated only via explicit reserved-state commits
// (Genesis, or a Block that carries a new reserved-state snapshot).
type ReservedState struct {
	Validators []Validator `json:"validators"`
	Quorum     int         `json:"quorum"`
}

// Weight returns the configured weight for pubKeyHex, or 0 if it is not
// a member of the validator set.
func (rs ReservedState) Weight(pubKeyHex string) int {
	for _, v := range rs.Validators {
		if v.PubKeyHex == pubKeyHex {
			return v.Weight
		}
	}
	return 0
}

// TotalWeight sums the weight of every validator in the set.
func (rs ReservedState) TotalWeight() int {
	total := 0
	for _, v := range rs.Validators {
		total += v.Weight
	}
	return total
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (rs ReservedState) Clone() ReservedState {
	cp := ReservedState{Quorum: rs.Quorum, Validators: make([]Validator, len(rs.Validators))}
	copy(cp.Validators, rs.Validators)
	return cp
}

// Signature is one validator's signature over a digest.
type Signature struct {
	ValidatorPubKeyHex string `json:"validator"`
	SigHex             string `json:"sig"`
}

// MultiSig is a collection of validator signatures over the same digest,
// the shape shared by AgendaProof and FinalizationProof.
type MultiSig struct {
	Digest     string      `json:"digest"`
	Signatures []Signature `json:"signatures"`
}

// VerifiedWeight checks every signature in m against digest and rs, and
// returns the total weight of validators whose signature verifies.
// Duplicate signers are only counted once (their second signature is
// ignored) so a validator cannot inflate the tally by re-signing.
func (m MultiSig) VerifiedWeight(rs ReservedState) (int, error) {
	seen := make(map[string]bool, len(m.Signatures))
	total := 0
	for _, sig := range m.Signatures {
		if seen[sig.ValidatorPubKeyHex] {
			continue
		}
		weight := rs.Weight(sig.ValidatorPubKeyHex)
		if weight == 0 {
			continue // not a current validator; ignore rather than fail the whole proof
		}
		pub, err := crypto.PubKeyFromHex(sig.ValidatorPubKeyHex)
		if err != nil {
			continue
		}
		if err := crypto.Verify(pub, []byte(m.Digest), sig.SigHex); err != nil {
			continue
		}
		seen[sig.ValidatorPubKeyHex] = true
		total += weight
	}
	return total, nil
}

// MeetsQuorum reports whether m's verified weight against rs satisfies
// rs.Quorum.
func (m MultiSig) MeetsQuorum(rs ReservedState) (bool, error) {
	weight, err := m.VerifiedWeight(rs)
	if err != nil {
		return false, err
	}
	return weight >= rs.Quorum, nil
}

// SortedValidators returns a copy of the validator list sorted by pubkey
// hex, for callers that need a deterministic iteration order. The input
// slice is left unchanged.
func SortedValidators(vs []Validator) []Validator {
	out := make([]Validator, len(vs))
	copy(out, vs)
	sort.Slice(out, func(i, j int) bool { return out[i].PubKeyHex < out[j].PubKeyHex })
	return out
}
