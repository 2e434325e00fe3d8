// Package history keeps a per-account index of balances and transfers,
// backed by SQLite. It is fed with every accepted block and answers
// "how did this account's balance evolve" queries without replaying the
// chain.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/luca-patrignani/p2b-ledger/ledger"

	_ "modernc.org/sqlite"
)

const maxBusyTimeoutMs = 5000

// Entry is the balance of an account after a block.
type Entry struct {
	Block   int   `json:"block"`
	Balance int64 `json:"balance"`
}

// Transfer is a transaction involving an account, with the block that
// included it.
type Transfer struct {
	Block int `json:"block"`
	ledger.Transaction
}

// Store is the SQLite history index.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	last ledger.Balances
}

// Open opens the database at path, or an in-memory one when path is empty.
// Previous content is discarded: balances are rebuilt from the chain every
// time a node starts.
func Open(path string) (*Store, error) {
	connStr := ":memory:"
	if path != "" {
		connStr = fmt.Sprintf("file:%s", filepath.Clean(path))
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Every connection to :memory: is a different database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db, last: ledger.Balances{}}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS balances (
			block INTEGER NOT NULL,
			account TEXT NOT NULL,
			balance INTEGER NOT NULL,
			PRIMARY KEY (block, account)
		)`,
		`CREATE TABLE IF NOT EXISTS transfers (
			block INTEGER NOT NULL,
			position INTEGER NOT NULL,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			amount INTEGER NOT NULL,
			PRIMARY KEY (block, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_balances_account ON balances(account, block)`,
		`DELETE FROM balances`,
		`DELETE FROM transfers`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Record stores the transfers of block and the balances that changed
// since the previous recorded block.
func (s *Store) Record(block ledger.Block, balances ledger.Balances) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for i, txn := range block.Transactions {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO transfers (block, position, sender, recipient, amount) VALUES (?, ?, ?, ?, ?)`,
			block.Number, i, txn.Sender, txn.Recipient, txn.Amount,
		); err != nil {
			return fmt.Errorf("insert transfer: %w", err)
		}
	}

	changed := ledger.Balances{}
	for account, balance := range balances {
		if previous, ok := s.last[account]; ok && previous == balance {
			continue
		}
		changed[account] = balance
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO balances (block, account, balance) VALUES (?, ?, ?)`,
			block.Number, account, balance,
		); err != nil {
			return fmt.Errorf("insert balance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for account, balance := range changed {
		s.last[account] = balance
	}
	return nil
}

// Observer adapts Record to the engine's block observer. Failures are
// logged: the index is auxiliary and must not stop the chain.
func (s *Store) Observer(logger *slog.Logger) func(ledger.Block, ledger.Balances) {
	return func(block ledger.Block, balances ledger.Balances) {
		if err := s.Record(block, balances); err != nil {
			logger.Error("history record failed", "block", block.Number, "err", err)
		}
	}
}

// Balances returns the balance of account after every block that changed it.
func (s *Store) Balances(account string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT block, balance FROM balances WHERE account = ? ORDER BY block`, account)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Block, &e.Balance); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Transfers returns the transactions sent or received by account in chain
// order.
func (s *Store) Transfers(account string) ([]Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT block, sender, recipient, amount FROM transfers
		 WHERE sender = ? OR recipient = ? ORDER BY block, position`,
		account, account,
	)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	transfers := make([]Transfer, 0)
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.Block, &t.Sender, &t.Recipient, &t.Amount); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}
