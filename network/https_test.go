package network

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/luca-patrignani/p2b-ledger/ledger"
)

func loadCert(t *testing.T, host string) (tls.Certificate, *x509.CertPool) {
	t.Helper()
	certPEM, keyPEM, err := GenerateSelfSignedCert(host)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatal(err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(certPEM) {
		t.Fatal("could not parse generated certificate")
	}
	return cert, pool
}

func TestHttpsBroadcast(t *testing.T) {
	cert, pool := loadCert(t, "127.0.0.1:0")
	received := make(chan string, 1)
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.TLS.PeerCertificates) == 0 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		received <- r.URL.Path
		w.WriteHeader(http.StatusCreated)
	}))
	srv.TLS = ServerTLSConfig(cert, pool)
	srv.StartTLS()
	defer srv.Close()

	peer := NewPeer(0, map[int]string{1: srv.URL}, WithCertificate(cert), WithLimitedCAs(pool), WithTimeout(5*time.Second))
	if err := peer.Broadcast(context.Background(), ledger.NewBlock(1, nil, ledger.GenesisPreviousHash, 0)); err != nil {
		t.Fatal(err)
	}
	if path := <-received; path != "/inform/block" {
		t.Fatalf("expected /inform/block, got %s", path)
	}
}

func TestHttpsRejectsUnknownClient(t *testing.T) {
	cert, pool := loadCert(t, "127.0.0.1")
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	srv.TLS = ServerTLSConfig(cert, pool)
	srv.StartTLS()
	defer srv.Close()

	stranger, _ := loadCert(t, "127.0.0.1")
	peer := NewPeer(0, map[int]string{1: srv.URL}, WithCertificate(stranger), WithLimitedCAs(pool), WithTimeout(5*time.Second))
	if err := peer.Broadcast(context.Background(), ledger.NewBlock(1, nil, ledger.GenesisPreviousHash, 0)); err == nil {
		t.Fatal("expected handshake failure for a client outside the pool")
	}
}

func TestTLSAddressScheme(t *testing.T) {
	cert, pool := loadCert(t, "localhost")
	peer := NewPeer(0, map[int]string{1: "localhost:5001"}, WithCertificate(cert), WithLimitedCAs(pool))
	url, err := peer.url(1, "/health")
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://localhost:5001/health" {
		t.Fatalf("expected https URL, got %s", url)
	}
}

func TestLoadTLS(t *testing.T) {
	certPEM, keyPEM, err := GenerateSelfSignedCert("127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	bogus := filepath.Join(dir, "bogus.pem")
	for path, data := range map[string][]byte{certFile: certPEM, keyFile: keyPEM, bogus: []byte("not a certificate")} {
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	cert, pool, err := LoadTLS(certFile, keyFile, certFile)
	if err != nil {
		t.Fatal(err)
	}
	if len(cert.Certificate) == 0 || pool == nil {
		t.Fatal("expected a certificate and a pool")
	}
	if _, _, err := LoadTLS(certFile, keyFile, bogus); err == nil {
		t.Fatal("expected error for a CA file without certificates")
	}
	if _, _, err := LoadTLS(certFile, filepath.Join(dir, "missing.pem"), certFile); err == nil {
		t.Fatal("expected error for a missing key")
	}
}
