package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"

	"github.com/luca-patrignani/p2b-ledger/api"
	"github.com/luca-patrignani/p2b-ledger/config"
	"github.com/luca-patrignani/p2b-ledger/consensus"
	"github.com/luca-patrignani/p2b-ledger/history"
	"github.com/luca-patrignani/p2b-ledger/identity"
	"github.com/luca-patrignani/p2b-ledger/network"
)

type flags struct {
	config     string
	port       int
	blockTime  time.Duration
	nodes      string
	peers      string
	ip         string
	verify     bool
	historyDB  string
	keyFile    string
	logLevel   string
	waitRounds uint
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.config, "config", "", "path of the JSON configuration file")
	flag.IntVar(&f.port, "p", 0, "id of this node, also the port it listens on")
	flag.DurationVar(&f.blockTime, "t", 0, "block time")
	flag.StringVar(&f.nodes, "n", "", "ids of all the nodes, separated by commas or spaces")
	flag.StringVar(&f.peers, "peers", "", "comma separated id=address overrides, the address may be a partial IP")
	flag.StringVar(&f.ip, "ip", "", "IP address to bind, also the base for partial peer addresses")
	flag.BoolVar(&f.verify, "verify-signatures", false, "reject blocks not signed by their miner")
	flag.StringVar(&f.historyDB, "history-db", "", "sqlite file for the balance history, in memory if empty")
	flag.StringVar(&f.keyFile, "key", "", "file holding the node signing key")
	flag.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	flag.UintVar(&f.waitRounds, "wait", 10, "attempts made to reach the other nodes before starting")
	flag.Parse()
	return f
}

// apply overrides the configuration with the flags set on the command line.
func (f flags) apply(c *config.Config) error {
	var err error
	flag.Visit(func(fl *flag.Flag) {
		if err != nil {
			return
		}
		switch fl.Name {
		case "p":
			c.Port = f.port
		case "t":
			c.BlockTime = config.Duration(f.blockTime)
		case "n":
			c.Nodes, err = config.ParseNodes(f.nodes)
		case "peers":
			base := net.IPv4(127, 0, 0, 1)
			if f.ip != "" {
				base = net.ParseIP(f.ip)
				if base == nil {
					err = fmt.Errorf("invalid ip %q", f.ip)
					return
				}
			}
			var peers map[int]string
			peers, err = parsePeers(f.peers, base)
			if c.Addresses == nil {
				c.Addresses = make(map[int]string)
			}
			for id, addr := range peers {
				c.Addresses[id] = addr
			}
		case "verify-signatures":
			c.VerifySignatures = f.verify
		case "history-db":
			c.HistoryDB = f.historyDB
		case "key":
			c.KeyFile = f.keyFile
		case "log-level":
			c.LogLevel = f.logLevel
		}
	})
	return err
}

func main() {
	f := parseFlags()
	cfg, err := config.Load(f.config)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	if err := f.apply(&cfg); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	level, _ := cfg.Level()
	logger := slog.New(pterm.NewSlogHandler(pterm.DefaultLogger.WithLevel(logLevel(level))))

	pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("P", pterm.FgCyan.ToStyle()),
		putils.LettersFromStringWithStyle("2", pterm.FgDarkGray.ToStyle()),
		putils.LettersFromStringWithStyle("B", pterm.FgCyan.ToStyle()),
		putils.LettersFromStringWithStyle(" Ledger", pterm.FgDarkGray.ToStyle()),
	).Render()

	if err := run(cfg, f, logger); err != nil {
		logger.Error("node stopped", "err", err)
		os.Exit(1)
	}
}

func logLevel(level slog.Level) pterm.LogLevel {
	switch {
	case level <= slog.LevelDebug:
		return pterm.LogLevelDebug
	case level <= slog.LevelInfo:
		return pterm.LogLevelInfo
	case level <= slog.LevelWarn:
		return pterm.LogLevelWarn
	default:
		return pterm.LogLevelError
	}
}

func run(cfg config.Config, f flags, logger *slog.Logger) error {
	self := cfg.Port

	var id *identity.Identity
	if cfg.KeyFile != "" {
		var err error
		id, err = identity.LoadOrCreate(cfg.KeyFile, self)
		if err != nil {
			return err
		}
	} else {
		id = identity.New(self)
	}
	pterm.Info.Printfln("Node %d, public key %s", self, id.PublicKeyHex())

	addresses := network.DefaultAddresses(cfg.Nodes)
	for node, addr := range cfg.Addresses {
		addresses[node] = addr
	}
	peerOpts := []network.PeerOption{
		network.WithTimeout(time.Duration(cfg.PeerTimeout)),
		network.WithSigner(id),
		network.WithLogger(logger),
	}
	var serverTLS *tls.Config
	if cfg.TLSCert != "" {
		cert, pool, err := network.LoadTLS(cfg.TLSCert, cfg.TLSKey, cfg.TLSCA)
		if err != nil {
			return fmt.Errorf("load tls: %w", err)
		}
		peerOpts = append(peerOpts, network.WithCertificate(cert), network.WithLimitedCAs(pool))
		serverTLS = network.ServerTLSConfig(cert, pool)
	}
	peer := network.NewPeer(self, addresses, peerOpts...)

	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()
	hub := api.NewHub(logger)

	engineOpts := []consensus.Option{
		consensus.WithBroadcaster(peer),
		consensus.WithLogger(logger),
		consensus.WithSigner(id),
		consensus.WithObserver(store.Observer(logger)),
		consensus.WithObserver(hub.Observe),
	}
	opts := []api.Option{api.WithHistory(store), api.WithIdentity(id), api.WithHub(hub)}
	if cfg.VerifySignatures {
		ring := identity.NewKeyring(peer)
		ring.Add(self, id.Public())
		engineOpts = append(engineOpts, consensus.WithSignatureCheck(ring))
		opts = append(opts, api.WithVerifier(ring))
	}

	engine, err := consensus.NewEngine(consensus.Config{
		Self:           self,
		Nodes:          cfg.Nodes,
		BlockTime:      time.Duration(cfg.BlockTime),
		GenesisAccount: cfg.Genesis(),
		GenesisBalance: cfg.GenesisBalance,
	}, engineOpts...)
	if err != nil {
		return err
	}

	service := api.NewService(engine, logger, opts...)

	bind := ":" + strconv.Itoa(self)
	if f.ip != "" {
		bind = net.JoinHostPort(f.ip, strconv.Itoa(self))
	}
	l, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", bind, err)
	}
	pterm.Info.Printfln("Listening on %s", l.Addr())
	if f.ip != "" {
		if subnet, err := subnetOfListener(l.(*net.TCPListener)); err == nil {
			pterm.Info.Printfln("Peers on %s can be given as partial addresses", subnet.String())
		}
	}

	server := &http.Server{
		Handler:           service.Handler(),
		TLSConfig:         serverTLS,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if serverTLS != nil {
			serveErr <- server.ServeTLS(l, "", "")
		} else {
			serveErr <- server.Serve(l)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	spinner, _ := pterm.DefaultSpinner.Start("Waiting for the other nodes...")
	up := peer.WaitForPeers(ctx, f.waitRounds, time.Second)
	reachable := 0
	for _, ok := range up {
		if ok {
			reachable++
		}
	}
	if reachable == len(up) {
		spinner.Success(fmt.Sprintf("All %d other nodes are up", len(up)))
	} else {
		spinner.Warning(fmt.Sprintf("%d of %d other nodes are up", reachable, len(up)))
	}

	if cfg.SyncInterval > 0 {
		reconciler := network.NewReconciler(peer, engine, time.Duration(cfg.SyncInterval), logger)
		go reconciler.Run(ctx)
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			engine.Stop()
			return err
		}
	}

	logger.Info("shutting down")
	engine.Stop()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	engine.Wait()
	return nil
}
