package identity

import (
	"context"
	"fmt"
	"sync"

	"go.dedis.ch/kyber/v4"
)

// KeySource fetches the hex public key a node advertises.
type KeySource interface {
	PublicKeyHex(ctx context.Context, node int) (string, error)
}

// Keyring maps node ids to public keys. Keys that are not known yet are
// fetched from the source the first time they are needed and then kept.
type Keyring struct {
	mu     sync.RWMutex
	keys   map[int]kyber.Point
	source KeySource
}

// NewKeyring creates a keyring; source may be nil, in which case only keys
// added with Add are known.
func NewKeyring(source KeySource) *Keyring {
	return &Keyring{keys: make(map[int]kyber.Point), source: source}
}

func (k *Keyring) Add(node int, key kyber.Point) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[node] = key
}

func (k *Keyring) Key(ctx context.Context, node int) (kyber.Point, error) {
	k.mu.RLock()
	key, ok := k.keys[node]
	k.mu.RUnlock()
	if ok {
		return key, nil
	}
	if k.source == nil {
		return nil, fmt.Errorf("no key for node %d", node)
	}
	s, err := k.source.PublicKeyHex(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("fetch key of node %d: %w", node, err)
	}
	key, err = ParsePublicKey(s)
	if err != nil {
		return nil, err
	}
	k.Add(node, key)
	return key, nil
}

// Verify checks that sig is node's signature of msg.
func (k *Keyring) Verify(ctx context.Context, node int, msg, sig []byte) error {
	key, err := k.Key(ctx, node)
	if err != nil {
		return err
	}
	return Verify(key, msg, sig)
}
