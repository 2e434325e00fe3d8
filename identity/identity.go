// Package identity provides the signing keys of ledger nodes. A node signs
// the hash of every block it broadcasts with a Schnorr signature over the
// Ed25519 group, and peers check the signature against the key they learned
// for that node.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/sign/schnorr"
	"go.dedis.ch/kyber/v4/suites"
)

var suite suites.Suite = suites.MustFind("Ed25519")

var ErrBadSignature = errors.New("bad signature")

// Identity is the key pair of one node.
type Identity struct {
	Node    int
	private kyber.Scalar
	public  kyber.Point
}

// New generates a fresh key pair for node.
func New(node int) *Identity {
	private := suite.Scalar().Pick(suite.RandomStream())
	return &Identity{
		Node:    node,
		private: private,
		public:  suite.Point().Mul(private, nil),
	}
}

// LoadOrCreate reads the private key stored at keyPath, generating and
// saving a new one when the file is missing or empty.
func LoadOrCreate(keyPath string, node int) (*Identity, error) {
	data, err := os.ReadFile(keyPath)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(strings.TrimSpace(string(data))) == 0) {
		id := New(node)
		if err := id.save(keyPath); err != nil {
			return nil, err
		}
		return id, nil
	}
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode key file: %w", err)
	}
	private := suite.Scalar()
	if err := private.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("decode key file: %w", err)
	}
	return &Identity{
		Node:    node,
		private: private,
		public:  suite.Point().Mul(private, nil),
	}, nil
}

func (i *Identity) save(keyPath string) error {
	raw, err := i.private.MarshalBinary()
	if err != nil {
		return err
	}
	return os.WriteFile(keyPath, []byte(hex.EncodeToString(raw)), 0o600)
}

func (i *Identity) Public() kyber.Point {
	return i.public
}

// PublicKeyHex returns the public key as a hex-encoded string.
func (i *Identity) PublicKeyHex() string {
	raw, err := i.public.MarshalBinary()
	if err != nil {
		// Ed25519 points always marshal.
		panic(err)
	}
	return hex.EncodeToString(raw)
}

func (i *Identity) Sign(msg []byte) ([]byte, error) {
	return schnorr.Sign(suite, i.private, msg)
}

// Verify checks sig against msg and public.
func Verify(public kyber.Point, msg, sig []byte) error {
	if err := schnorr.Verify(suite, public, msg, sig); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// ParsePublicKey decodes a key produced by PublicKeyHex.
func ParsePublicKey(s string) (kyber.Point, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	p := suite.Point()
	if err := p.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	return p, nil
}
