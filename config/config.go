// Package config loads the runtime configuration of a ledger node from a
// JSON file. Missing fields take their default values; command-line flags
// are applied on top by the node binary.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that reads "5s" style strings or plain
// seconds from JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// Config holds configurable options for a node.
type Config struct {
	Port  int   `json:"port"`
	Nodes []int `json:"nodes"`
	// Addresses overrides localhost:<id> for some nodes.
	Addresses      map[int]string `json:"addresses"`
	BlockTime      Duration       `json:"block_time"`
	PeerTimeout    Duration       `json:"peer_timeout"`
	SyncInterval   Duration       `json:"sync_interval"`
	GenesisAccount string         `json:"genesis_account"`
	GenesisBalance int64          `json:"genesis_balance"`
	// VerifySignatures makes the node reject blocks whose hash is not
	// signed by their miner.
	VerifySignatures bool   `json:"verify_signatures"`
	KeyFile          string `json:"key_file"`
	HistoryDB        string `json:"history_db"`
	TLSCert          string `json:"tls_cert"`
	TLSKey           string `json:"tls_key"`
	TLSCA            string `json:"tls_ca"`
	LogLevel         string `json:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Port:           5000,
		BlockTime:      Duration(5 * time.Second),
		PeerTimeout:    Duration(3 * time.Second),
		SyncInterval:   Duration(10 * time.Second),
		GenesisBalance: 10000,
		LogLevel:       "info",
	}
}

// Load reads the JSON file at path over the defaults: fields missing from
// the file keep their default value, fields present keep theirs even when
// zero. An empty path returns the defaults. Unlike a missing field, a
// missing or malformed file is an error.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// ParseNodes reads a list of node ids separated by commas or spaces.
func ParseNodes(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	nodes := make([]int, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid node id %q", f)
		}
		nodes = append(nodes, id)
	}
	return nodes, nil
}

// Validate checks that the node set is usable and contains Port.
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return errors.New("no nodes configured")
	}
	if !slices.Contains(c.Nodes, c.Port) {
		return fmt.Errorf("port %d is not one of the nodes %v", c.Port, c.Nodes)
	}
	if c.BlockTime < 0 {
		return fmt.Errorf("negative block time %s", time.Duration(c.BlockTime))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("tls_cert and tls_key must be set together")
	}
	if c.TLSCert != "" && c.TLSCA == "" {
		return errors.New("tls_ca is required with tls_cert")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Genesis returns the account seeded by the first block: GenesisAccount if
// set, otherwise the lowest node id.
func (c *Config) Genesis() string {
	if c.GenesisAccount != "" {
		return c.GenesisAccount
	}
	if len(c.Nodes) == 0 {
		return ""
	}
	return strconv.Itoa(slices.Min(c.Nodes))
}

func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return level, nil
}
