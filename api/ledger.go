package api

import (
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/luca-patrignani/p2b-ledger/consensus"
	"github.com/luca-patrignani/p2b-ledger/ledger"
	"github.com/luca-patrignani/p2b-ledger/network"
)

const maxBodyBytes = 1 << 20

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

// handleNewTransaction queues a transaction. Duplicates of a pending
// transaction are accepted and ignored.
func (s *Service) handleNewTransaction(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	txn, err := ledger.DecodeTransaction(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	added, err := s.engine.SubmitTransaction(txn)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"transaction": txn,
		"added":       added,
	})
}

// handleInformBlock receives a block mined by another node.
func (s *Service) handleInformBlock(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	block, claimedHash, err := ledger.DecodeBlock(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sig, sigErr := hex.DecodeString(r.Header.Get(network.HeaderBlockSignature))
	if sigErr != nil {
		sig = nil
	}
	if s.verifier != nil {
		if len(sig) == 0 {
			s.writeError(w, http.StatusUnauthorized, "missing or malformed block signature")
			return
		}
		if err := s.verifier.Verify(r.Context(), block.Miner, []byte(claimedHash), sig); err != nil {
			s.logger.Warn("block signature rejected", "number", block.Number, "miner", block.Miner, "err", err)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	err = s.engine.InformSignedBlock(block, claimedHash, sig)
	switch {
	case errors.Is(err, consensus.ErrInvalidBlock):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("accepting block", "number", block.Number, "delivery", r.Header.Get(network.HeaderDeliveryID), "err", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeJSON(w, http.StatusCreated, map[string]any{"number": block.Number, "hash": block.Hash})
	}
}

func (s *Service) handleStartExperiment(w http.ResponseWriter, r *http.Request) {
	started, err := s.engine.StartExperiment()
	if errors.Is(err, consensus.ErrAlreadyStarted) {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if started {
		s.logger.Info("genesis requested")
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("OK"))
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		s.writeError(w, http.StatusBadRequest, "missing account")
		return
	}
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	balances, err := s.history.Balances(account)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	transfers, err := s.history.Transfers(account)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"account":   account,
		"balances":  balances,
		"transfers": transfers,
	})
}
