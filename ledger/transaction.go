// Package ledger defines the ordinary user transaction carried inside
// semantic.Transaction / semantic.ExtraAgendaTransaction event payloads.
// It is the generic part of the teacher's account-model transaction type
// (github.com/tolelom/tolchain/core.Transaction) with the game-asset
// payload variants trimmed away — this spec's reserved state models
// validators and quorum, not accounts or assets, so only the transfer
// payload survives as the concrete example payload.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/repochain/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer TxType = "transfer"
	// TxExtraAgenda marks a privileged transaction admitted only during
	// the verifier's ExtraAgenda phase (semantic.ExtraAgendaTransaction).
	TxExtraAgenda TxType = "extra_agenda"
)

// Transaction is the atomic unit of work carried by a commit.
// From holds the sender's full hex-encoded ed25519 public key.
// Signature covers all fields except Signature and ID.
type Transaction struct {
	ID        string          `json:"id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature/ID).
func (tx *Transaction) Hash() string {
	body := signingBody{
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("ledger: missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("ledger: invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal payload: %w", err)
	}
	return &Transaction{
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// TransferPayload transfers native tokens, the example payload used by
// end-to-end tests and by wallet.Transfer.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}
