package network

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"net/http"
	"time"
)

// WithTimeout bounds every request made by the peer.
func WithTimeout(timeout time.Duration) PeerOption {
	return func(p Peer) Peer {
		p.timeout = timeout
		return p
	}
}

func WithCertificate(cert tls.Certificate) PeerOption {
	return func(p Peer) Peer {
		if p.tlsConfig == nil {
			p.tlsConfig = &tls.Config{}
		}
		p.tlsConfig.Certificates = append(p.tlsConfig.Certificates, cert)
		p.client.Transport = &http.Transport{
			TLSClientConfig: p.tlsConfig,
		}
		return p
	}
}

func WithLimitedCAs(certPool *x509.CertPool) PeerOption {
	return func(p Peer) Peer {
		if p.tlsConfig == nil {
			p.tlsConfig = &tls.Config{}
		}
		p.tlsConfig.RootCAs = certPool
		p.client.Transport = &http.Transport{
			TLSClientConfig: p.tlsConfig,
		}
		return p
	}
}

// WithSigner makes the peer sign the hash of every broadcast block.
func WithSigner(s Signer) PeerOption {
	return func(p Peer) Peer {
		p.signer = s
		return p
	}
}

func WithLogger(l *slog.Logger) PeerOption {
	return func(p Peer) Peer {
		p.logger = l
		return p
	}
}

// ServerTLSConfig returns the configuration for a node server that only
// accepts clients presenting a certificate signed by certPool.
func ServerTLSConfig(cert tls.Certificate, certPool *x509.CertPool) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    certPool,
	}
}
