package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/luca-patrignani/p2b-ledger/history"
	"github.com/luca-patrignani/p2b-ledger/ledger"
)

// AccountHistory is the answer of /history.
type AccountHistory struct {
	Account   string             `json:"account"`
	Balances  []history.Entry    `json:"balances"`
	Transfers []history.Transfer `json:"transfers"`
}

// SubmitTransaction sends txn to a node. It reports false when the node
// already had it pending.
func (p Peer) SubmitTransaction(ctx context.Context, rank int, txn ledger.Transaction) (bool, error) {
	body, err := txn.Encode()
	if err != nil {
		return false, err
	}
	target, err := p.url(rank, "/transactions/new")
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return false, statusError(resp)
	}
	var answer struct {
		Added bool `json:"added"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return false, err
	}
	return answer.Added, nil
}

// StartExperiment asks a node to mine the genesis block.
func (p Peer) StartExperiment(ctx context.Context, rank int) error {
	return p.getJSON(ctx, rank, "/startexp/", nil)
}

// History fetches the balance history of account from a node.
func (p Peer) History(ctx context.Context, rank int, account string) (AccountHistory, error) {
	var h AccountHistory
	err := p.getJSON(ctx, rank, "/history?account="+url.QueryEscape(account), &h)
	return h, err
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(msg, &body) == nil && body.Error != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}
