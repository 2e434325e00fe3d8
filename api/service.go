// Package api exposes a ledger node over HTTP: clients submit transactions,
// peers deliver blocks, operators inspect the chain and start the run.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/luca-patrignani/p2b-ledger/consensus"
	"github.com/luca-patrignani/p2b-ledger/history"
	"github.com/luca-patrignani/p2b-ledger/identity"
	"github.com/luca-patrignani/p2b-ledger/ledger"
)

// Engine is the consensus engine as seen by the handlers.
type Engine interface {
	Self() int
	SubmitTransaction(txn ledger.Transaction) (bool, error)
	InformSignedBlock(block ledger.Block, claimedHash string, signature []byte) error
	StartExperiment() (bool, error)
	Dump() consensus.Snapshot
}

// History answers per-account queries.
type History interface {
	Balances(account string) ([]history.Entry, error)
	Transfers(account string) ([]history.Transfer, error)
}

// Verifier checks that sig is the signature of msg by node.
type Verifier interface {
	Verify(ctx context.Context, node int, msg, sig []byte) error
}

// Service handles API requests
type Service struct {
	engine   Engine
	history  History
	verifier Verifier
	identity *identity.Identity
	hub      *Hub
	logger   *slog.Logger
}

type Option func(*Service)

func WithHistory(h History) Option {
	return func(s *Service) {
		s.history = h
	}
}

// WithVerifier makes /inform/block require a valid signature of the block
// hash by its miner.
func WithVerifier(v Verifier) Option {
	return func(s *Service) {
		s.verifier = v
	}
}

func WithIdentity(id *identity.Identity) Option {
	return func(s *Service) {
		s.identity = id
	}
}

func WithHub(h *Hub) Option {
	return func(s *Service) {
		s.hub = h
	}
}

// NewService creates a new API service
func NewService(engine Engine, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{engine: engine, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router of the node.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /transactions/new", s.handleNewTransaction)
	mux.HandleFunc("POST /inform/block", s.handleInformBlock)
	mux.HandleFunc("GET /dump", s.handleDump)
	mux.HandleFunc("GET /startexp/", s.handleStartExperiment)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /identity", s.handleIdentity)
	if s.hub != nil {
		mux.HandleFunc("GET /ws/blocks", s.hub.ServeWS)
	}
	return mux
}

// writeJSON writes a JSON response
func (s *Service) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("write response", "err", err)
	}
}

// writeError writes a JSON error response
func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("OK"))
}

func (s *Service) handleDump(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Dump())
}

func (s *Service) handleIdentity(w http.ResponseWriter, r *http.Request) {
	if s.identity == nil {
		s.writeError(w, http.StatusNotFound, "node has no signing identity")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"node":       s.engine.Self(),
		"public_key": s.identity.PublicKeyHex(),
	})
}
