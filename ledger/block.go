package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// GenesisPreviousHash is the previous hash carried by the first block.
const GenesisPreviousHash = "0xfeedcafe"

var ErrMissingField = errors.New("missing required field")

// Block is a numbered batch of transactions produced by one miner.
// Hash is fixed by NewBlock; a Block must not be modified afterwards.
type Block struct {
	Number       int           `json:"number"`
	Transactions []Transaction `json:"transactions"`
	PreviousHash string        `json:"previous_hash"`
	Miner        int           `json:"miner"`
	Hash         string        `json:"hash"`
}

// NewBlock builds a block and computes its hash. The transaction slice is
// copied, so later changes to txns do not affect the block.
func NewBlock(number int, txns []Transaction, previousHash string, miner int) Block {
	b := Block{
		Number:       number,
		Transactions: slices.Clone(txns),
		PreviousHash: previousHash,
		Miner:        miner,
	}
	if b.Transactions == nil {
		b.Transactions = []Transaction{}
	}
	b.Hash = b.ComputeHash()
	return b
}

// ComputeHash recomputes the SHA256 digest of the block content.
// The stored Hash field is not part of the digest.
func (b Block) ComputeHash() string {
	txns := b.Transactions
	if txns == nil {
		txns = []Transaction{}
	}
	// Transaction only holds strings and integers, marshaling cannot fail.
	txnBytes, _ := json.Marshal(txns)

	data := fmt.Sprintf("%d|%s|%s|%d",
		b.Number,
		string(txnBytes),
		b.PreviousHash,
		b.Miner,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

func (b Block) Encode() ([]byte, error) {
	return json.Marshal(b)
}

type wireBlock struct {
	Number       *int               `json:"number"`
	Transactions *[]json.RawMessage `json:"transactions"`
	PreviousHash *string            `json:"previous_hash"`
	Miner        *int               `json:"miner"`
	Hash         *string            `json:"hash"`
}

// DecodeBlock parses an encoded block. The block is rebuilt with NewBlock,
// so its Hash is the recomputed one; the hash found on the wire is returned
// separately as claimedHash and is left for the caller to check.
func DecodeBlock(data []byte) (block Block, claimedHash string, err error) {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return Block{}, "", fmt.Errorf("decode block: %w", err)
	}
	switch {
	case w.Number == nil:
		return Block{}, "", fmt.Errorf("%w: number", ErrMissingField)
	case w.Transactions == nil:
		return Block{}, "", fmt.Errorf("%w: transactions", ErrMissingField)
	case w.PreviousHash == nil:
		return Block{}, "", fmt.Errorf("%w: previous_hash", ErrMissingField)
	case w.Miner == nil:
		return Block{}, "", fmt.Errorf("%w: miner", ErrMissingField)
	case w.Hash == nil:
		return Block{}, "", fmt.Errorf("%w: hash", ErrMissingField)
	}
	txns := make([]Transaction, 0, len(*w.Transactions))
	for i, raw := range *w.Transactions {
		txn, err := DecodeTransaction(raw)
		if err != nil {
			return Block{}, "", fmt.Errorf("transaction %d: %w", i, err)
		}
		txns = append(txns, txn)
	}
	return NewBlock(*w.Number, txns, *w.PreviousHash, *w.Miner), *w.Hash, nil
}
