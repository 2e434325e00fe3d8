// Command ledgerctl talks to running ledger nodes: it submits
// transactions, starts the chain and shows what the nodes hold.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pterm/pterm"

	"github.com/luca-patrignani/p2b-ledger/api"
	"github.com/luca-patrignani/p2b-ledger/config"
	"github.com/luca-patrignani/p2b-ledger/ledger"
	"github.com/luca-patrignani/p2b-ledger/network"
)

const usage = `usage: ledgerctl <command> [flags]

commands:
  dump     show the chain, pending transactions and balances of a node
  send     submit a transaction
  start    ask the first node to mine the genesis block
  history  show the balance history of an account
  watch    follow the blocks accepted by a node
  status   check which nodes are reachable
  certgen  write a self-signed certificate and key
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "dump":
		err = dump(ctx, args)
	case "send":
		err = send(ctx, args)
	case "start":
		err = start(ctx, args)
	case "history":
		err = showHistory(ctx, args)
	case "watch":
		err = watch(ctx, args)
	case "status":
		err = status(ctx, args)
	case "certgen":
		err = certgen(args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

// tlsFlags select the client certificate used against nodes running
// with tls_cert.
type tlsFlags struct {
	cert, key, ca string
}

func (t *tlsFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&t.cert, "cert", "", "client certificate, enables HTTPS")
	fs.StringVar(&t.key, "key", "", "key of the client certificate")
	fs.StringVar(&t.ca, "ca", "", "certificate authorities trusted for the nodes")
}

// options returns the peer options and the client TLS configuration, which
// is nil when no certificate is given.
func (t tlsFlags) options() ([]network.PeerOption, *tls.Config, error) {
	if t.cert == "" && t.key == "" && t.ca == "" {
		return nil, nil, nil
	}
	if t.cert == "" || t.key == "" || t.ca == "" {
		return nil, nil, fmt.Errorf("-cert, -key and -ca must be given together")
	}
	cert, pool, err := network.LoadTLS(t.cert, t.key, t.ca)
	if err != nil {
		return nil, nil, err
	}
	opts := []network.PeerOption{network.WithCertificate(cert), network.WithLimitedCAs(pool)}
	return opts, &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool}, nil
}

// nodeFlags are the flags shared by the commands addressing one node.
type nodeFlags struct {
	node    int
	addr    string
	timeout time.Duration
	tls     tlsFlags
}

func (n *nodeFlags) register(fs *flag.FlagSet) {
	fs.IntVar(&n.node, "node", 5001, "id of the node")
	fs.StringVar(&n.addr, "addr", "", "address of the node, localhost:<id> if empty")
	fs.DurationVar(&n.timeout, "timeout", 5*time.Second, "request timeout")
	n.tls.register(fs)
}

func (n nodeFlags) address() string {
	if n.addr == "" {
		return "localhost:" + strconv.Itoa(n.node)
	}
	return n.addr
}

func (n nodeFlags) peer() (network.Peer, error) {
	opts, _, err := n.tls.options()
	if err != nil {
		return network.Peer{}, err
	}
	opts = append(opts, network.WithTimeout(n.timeout))
	return network.NewPeer(-1, map[int]string{n.node: n.address()}, opts...), nil
}

func dump(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	var n nodeFlags
	n.register(fs)
	asJSON := fs.Bool("json", false, "print the raw JSON")
	fs.Parse(args)

	peer, err := n.peer()
	if err != nil {
		return err
	}
	snapshot, err := peer.FetchDump(ctx, n.node)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	}
	printSnapshot(n.node, snapshot)
	return nil
}

func send(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	var n nodeFlags
	n.register(fs)
	from := fs.String("from", "", "sender account")
	to := fs.String("to", "", "recipient account")
	amount := fs.Int64("amount", 0, "amount to transfer")
	fs.Parse(args)
	if *from == "" || *to == "" {
		return fmt.Errorf("-from and -to are required")
	}

	peer, err := n.peer()
	if err != nil {
		return err
	}
	txn := ledger.NewTransaction(*from, *to, *amount)
	added, err := peer.SubmitTransaction(ctx, n.node, txn)
	if err != nil {
		return err
	}
	if added {
		pterm.Success.Printfln("%s queued on node %d", txn, n.node)
	} else {
		pterm.Warning.Printfln("%s was already pending on node %d", txn, n.node)
	}
	return nil
}

func start(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	var n nodeFlags
	n.register(fs)
	fs.Parse(args)

	peer, err := n.peer()
	if err != nil {
		return err
	}
	if err := peer.StartExperiment(ctx, n.node); err != nil {
		return err
	}
	pterm.Success.Printfln("Node %d asked to mine the genesis block", n.node)
	return nil
}

func showHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	var n nodeFlags
	n.register(fs)
	account := fs.String("account", "", "account to show")
	fs.Parse(args)
	if *account == "" {
		return fmt.Errorf("-account is required")
	}

	peer, err := n.peer()
	if err != nil {
		return err
	}
	h, err := peer.History(ctx, n.node, *account)
	if err != nil {
		return err
	}
	printHistory(h)
	return nil
}

func watch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	var n nodeFlags
	n.register(fs)
	fs.Parse(args)

	_, tlsConfig, err := n.tls.options()
	if err != nil {
		return err
	}
	addr := n.address()
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws/blocks"}
	if tlsConfig != nil {
		u.Scheme = "wss"
	}
	if strings.Contains(addr, "://") {
		parsed, err := url.Parse(addr)
		if err != nil {
			return err
		}
		u.Host = parsed.Host
		if parsed.Scheme == "https" {
			u.Scheme = "wss"
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: n.timeout, TLSClientConfig: tlsConfig}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	pterm.Info.Printfln("Following node %d, press Ctrl+C to stop", n.node)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var event api.BlockEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			pterm.Warning.Printfln("unreadable event: %v", err)
			continue
		}
		pterm.Println(blockPanel(event.Block, event.State))
	}
}

func status(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	nodes := fs.String("n", "5001,5002,5003", "ids of the nodes, separated by commas or spaces")
	timeout := fs.Duration("timeout", 2*time.Second, "request timeout")
	var tf tlsFlags
	tf.register(fs)
	fs.Parse(args)

	ids, err := config.ParseNodes(*nodes)
	if err != nil {
		return err
	}
	opts, _, err := tf.options()
	if err != nil {
		return err
	}
	opts = append(opts, network.WithTimeout(*timeout))
	peer := network.NewPeer(-1, network.DefaultAddresses(ids), opts...)
	up := peer.Probe(ctx)
	data := pterm.TableData{{"Node", "Address", "Status"}}
	for _, id := range ids {
		state := pterm.Red("down")
		if up[id] {
			state = pterm.Green("up")
		}
		data = append(data, []string{strconv.Itoa(id), peer.Addresses[id], state})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func certgen(args []string) error {
	fs := flag.NewFlagSet("certgen", flag.ExitOnError)
	host := fs.String("host", "localhost", "host name or IP the certificate is valid for")
	dir := fs.String("out", ".", "directory for cert.pem and key.pem")
	fs.Parse(args)

	certPEM, keyPEM, err := network.GenerateSelfSignedCert(*host)
	if err != nil {
		return err
	}
	certPath := filepath.Join(*dir, "cert.pem")
	keyPath := filepath.Join(*dir, "key.pem")
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return err
	}
	pterm.Success.Printfln("Wrote %s and %s", certPath, keyPath)
	return nil
}
