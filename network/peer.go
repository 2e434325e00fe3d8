package network

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luca-patrignani/p2b-ledger/consensus"
	"github.com/luca-patrignani/p2b-ledger/ledger"
)

const (
	HeaderSenderRank     = "X-Sender-Rank"
	HeaderDeliveryID     = "X-Delivery-ID"
	HeaderBlockSignature = "X-Block-Signature"
)

// Signer signs the hash of outgoing blocks.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
}

// Peer is the HTTP client a node uses to talk to the other nodes.
// The Rank is the id of the local node.
// Addresses[i] contains the address to reach the node with id i, either
// host:port or a full base URL.
type Peer struct {
	Rank      int
	Addresses map[int]string
	client    *http.Client
	tlsConfig *tls.Config
	timeout   time.Duration
	signer    Signer
	logger    *slog.Logger
}

type PeerOption func(Peer) Peer

func NewPeer(rank int, addresses map[int]string, opts ...PeerOption) Peer {
	p := Peer{
		Rank:      rank,
		Addresses: copyMap(addresses),
		client:    &http.Client{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		p = opt(p)
	}
	p.client.Timeout = p.timeout
	return p
}

// DefaultAddresses maps every node id to localhost:<id>.
func DefaultAddresses(nodes []int) map[int]string {
	addresses := make(map[int]string, len(nodes))
	for _, id := range nodes {
		addresses[id] = fmt.Sprintf("localhost:%d", id)
	}
	return addresses
}

// Others returns the ids of the other nodes in ascending order.
func (p Peer) Others() []int {
	var ranks []int
	for k := range p.Addresses {
		if k != p.Rank {
			ranks = append(ranks, k)
		}
	}
	sort.Ints(ranks)
	return ranks
}

func (p Peer) url(rank int, path string) (string, error) {
	addr, ok := p.Addresses[rank]
	if !ok {
		return "", fmt.Errorf("no address for node %d", rank)
	}
	if strings.Contains(addr, "://") {
		return strings.TrimSuffix(addr, "/") + path, nil
	}
	scheme := "http"
	if p.tlsConfig != nil {
		scheme = "https"
	}
	return scheme + "://" + addr + path, nil
}

// Broadcast posts block to /inform/block of every other node, once.
// Failures of single nodes are joined in the returned error and do not
// stop the delivery to the others.
func (p Peer) Broadcast(ctx context.Context, block ledger.Block) error {
	body, err := block.Encode()
	if err != nil {
		return err
	}
	var signature string
	if p.signer != nil {
		sig, err := p.signer.Sign([]byte(block.Hash))
		if err != nil {
			return fmt.Errorf("sign block %d: %w", block.Number, err)
		}
		signature = hex.EncodeToString(sig)
	}
	deliveryID := uuid.NewString()

	others := p.Others()
	errs := make([]error, len(others))
	var wg sync.WaitGroup
	for i, rank := range others {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.deliver(ctx, rank, body, signature, deliveryID); err != nil {
				errs[i] = fmt.Errorf("node %d: %w", rank, err)
			}
		}()
	}
	wg.Wait()

	p.logger.Debug("block broadcast", "number", block.Number, "delivery", deliveryID, "peers", len(others))
	return errors.Join(errs...)
}

func (p Peer) deliver(ctx context.Context, rank int, body []byte, signature, deliveryID string) error {
	url, err := p.url(rank, "/inform/block")
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSenderRank, fmt.Sprint(p.Rank))
	req.Header.Set(HeaderDeliveryID, deliveryID)
	if signature != "" {
		req.Header.Set(HeaderBlockSignature, signature)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func (p Peer) getJSON(ctx context.Context, rank int, path string, v any) error {
	url, err := p.url(rank, path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return nil
}

// FetchDump downloads the chain, pending transactions and balances of a node.
func (p Peer) FetchDump(ctx context.Context, rank int) (consensus.Snapshot, error) {
	var snapshot consensus.Snapshot
	err := p.getJSON(ctx, rank, "/dump", &snapshot)
	return snapshot, err
}

// PublicKeyHex asks a node for its signing key.
func (p Peer) PublicKeyHex(ctx context.Context, rank int) (string, error) {
	var info struct {
		Node      int    `json:"node"`
		PublicKey string `json:"public_key"`
	}
	if err := p.getJSON(ctx, rank, "/identity", &info); err != nil {
		return "", err
	}
	if info.Node != rank {
		return "", fmt.Errorf("node %d answered as %d", rank, info.Node)
	}
	return info.PublicKey, nil
}

func (p Peer) Health(ctx context.Context, rank int) error {
	return p.getJSON(ctx, rank, "/health", nil)
}

// CreateListeners opens n listeners on localhost and returns them with
// their addresses.
func CreateListeners(n int) (map[int]net.Listener, map[int]string) {
	listeners := make(map[int]net.Listener)
	addresses := make(map[int]string)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", "localhost:0")
		if err != nil {
			panic(err)
		}
		listeners[i] = l
		addresses[i] = l.Addr().String()
	}
	return listeners, addresses
}

func copyMap(original map[int]string) map[int]string {
	copied := make(map[int]string)
	for k, v := range original {
		copied[k] = v
	}
	return copied
}
