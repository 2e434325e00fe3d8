package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/luca-patrignani/p2b-ledger/consensus"
	"github.com/luca-patrignani/p2b-ledger/history"
	"github.com/luca-patrignani/p2b-ledger/ledger"
)

var testNodes = []int{5001, 5002, 5003}

type testNode struct {
	engine  *consensus.Engine
	store   *history.Store
	hub     *Hub
	server  *httptest.Server
	service *Service
}

// setupTest starts node 5003 of a three node network. Node 5003 never
// mines in these tests, so every block is delivered by the test.
func setupTest(t *testing.T, opts ...Option) *testNode {
	t.Helper()
	return setupNode(t, nil, opts...)
}

// setupNode is setupTest with extra engine options.
func setupNode(t *testing.T, engineOpts []consensus.Option, opts ...Option) *testNode {
	t.Helper()
	logger := slog.Default()

	store, err := history.Open("")
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hub := NewHub(logger)
	engine, err := consensus.NewEngine(consensus.Config{
		Self:           5003,
		Nodes:          testNodes,
		GenesisAccount: "5001",
		GenesisBalance: 10000,
	}, append([]consensus.Option{consensus.WithObserver(store.Observer(logger)), consensus.WithObserver(hub.Observe)}, engineOpts...)...)
	if err != nil {
		t.Fatal(err)
	}

	opts = append([]Option{WithHistory(store), WithHub(hub)}, opts...)
	svc := NewService(engine, logger, opts...)
	server := httptest.NewServer(svc.Handler())
	t.Cleanup(server.Close)

	return &testNode{engine: engine, store: store, hub: hub, server: server, service: svc}
}

func postJSON(t *testing.T, url string, body []byte, headers map[string]string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func encodeBlock(t *testing.T, b ledger.Block) []byte {
	t.Helper()
	data, err := b.Encode()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func dump(t *testing.T, baseURL string) consensus.Snapshot {
	t.Helper()
	status, body := get(t, baseURL+"/dump")
	if status != http.StatusOK {
		t.Fatalf("expected 200 from /dump, got %d", status)
	}
	var snapshot consensus.Snapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		t.Fatal(err)
	}
	return snapshot
}
