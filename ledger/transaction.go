package ledger

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
)

// Transaction moves Amount units from Sender to Recipient.
// It is a plain value: two transactions with the same fields are the same
// transaction.
type Transaction struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
}

// NewTransaction builds a transaction without validating it. Whether a
// transaction can be applied depends on the balances it is applied to.
func NewTransaction(sender, recipient string, amount int64) Transaction {
	return Transaction{Sender: sender, Recipient: recipient, Amount: amount}
}

// Compare orders transactions by sender, then recipient, then amount.
func Compare(a, b Transaction) int {
	if c := cmp.Compare(a.Sender, b.Sender); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Recipient, b.Recipient); c != 0 {
		return c
	}
	return cmp.Compare(a.Amount, b.Amount)
}

func (t Transaction) Less(other Transaction) bool {
	return Compare(t, other) < 0
}

func (t Transaction) String() string {
	return fmt.Sprintf("T(%s -> %s: %d)", t.Sender, t.Recipient, t.Amount)
}

// SortTransactions returns a sorted copy of txns.
func SortTransactions(txns []Transaction) []Transaction {
	sorted := slices.Clone(txns)
	slices.SortStableFunc(sorted, Compare)
	return sorted
}

func (t Transaction) Encode() ([]byte, error) {
	return json.Marshal(t)
}

type wireTransaction struct {
	Sender    *string `json:"sender"`
	Recipient *string `json:"recipient"`
	Amount    *int64  `json:"amount"`
}

func (w wireTransaction) toTransaction() (Transaction, error) {
	switch {
	case w.Sender == nil:
		return Transaction{}, fmt.Errorf("%w: sender", ErrMissingField)
	case w.Recipient == nil:
		return Transaction{}, fmt.Errorf("%w: recipient", ErrMissingField)
	case w.Amount == nil:
		return Transaction{}, fmt.Errorf("%w: amount", ErrMissingField)
	}
	return NewTransaction(*w.Sender, *w.Recipient, *w.Amount), nil
}

// DecodeTransaction parses the wire form produced by Encode. Every field
// must be present.
func DecodeTransaction(data []byte) (Transaction, error) {
	var w wireTransaction
	if err := json.Unmarshal(data, &w); err != nil {
		return Transaction{}, fmt.Errorf("decode transaction: %w", err)
	}
	return w.toTransaction()
}
