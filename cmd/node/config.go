package main

import (
	"crypto/ed25519"
	"flag"
	"time"
)

// Config holds the node configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// QUICAddress is the QUIC listen address used to reach a remote oracle.
	QUICAddress string

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string

	// PrivateKey is the node's Ed25519 transport key.
	PrivateKey ed25519.PrivateKey

	// Owner is the hex ledger owner key. Empty uses the node key.
	Owner string

	// LedgerID is hashed into the 32-byte ledger identity at genesis.
	LedgerID string

	// Cooldown is the initial rate-limit interval in seconds.
	Cooldown uint64

	// OracleAddress is the QUIC address of a remote oracle. Empty runs the
	// oracle in process.
	OracleAddress string

	// OracleKey is the hex Ed25519 transport key of the remote oracle.
	OracleKey string

	// CommitteePath is the file of hex BLS committee public keys (remote oracle).
	CommitteePath string

	// Threshold is the number of committee signatures a proof needs.
	Threshold int

	// PaillierPubPath is the Paillier public key file (remote oracle).
	PaillierPubPath string

	// PaillierPath is the in-process oracle decryption key, generated if missing.
	PaillierPath string

	// SeedPath is the in-process oracle committee seed, generated if missing.
	SeedPath string

	// Members is the in-process oracle committee size, used when generating its key.
	Members int

	// OracleDelay is waited by the in-process oracle before each decryption.
	OracleDelay time.Duration

	// LogLevel is the minimum log level.
	LogLevel string

	// LogFile enables a rotated log file when set.
	LogFile string

	// SnapshotInterval is the period of background snapshots served at
	// GET /snapshot. Zero disables them.
	SnapshotInterval time.Duration

	// ExportPath writes a snapshot of the store and exits when set.
	ExportPath string

	// ImportPath loads a snapshot into an empty store and exits when set.
	ImportPath string
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	flag.StringVar(&cfg.HTTPAddress, "http", ":8080", "HTTP API address")
	flag.StringVar(&cfg.QUICAddress, "quic", ":9400", "QUIC address for the oracle link")
	flag.StringVar(&cfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	flag.StringVar(&cfg.Owner, "owner", "", "Hex owner public key at genesis (defaults to the node key)")
	flag.StringVar(&cfg.LedgerID, "ledger-id", "veilsum", "Ledger identity seed")
	flag.Uint64Var(&cfg.Cooldown, "cooldown", 60, "Initial cooldown in seconds")
	flag.StringVar(&cfg.OracleAddress, "oracle", "", "Remote oracle QUIC address (empty runs the oracle in process)")
	flag.StringVar(&cfg.OracleKey, "oracle-key", "", "Hex Ed25519 transport key of the remote oracle")
	flag.StringVar(&cfg.CommitteePath, "committee", "", "Oracle committee public keys file (remote oracle)")
	flag.IntVar(&cfg.Threshold, "threshold", 2, "Committee shares and signatures required per decryption (a majority of -members)")
	flag.StringVar(&cfg.PaillierPubPath, "paillier-pub", "", "Paillier public key file (remote oracle)")
	flag.StringVar(&cfg.PaillierPath, "paillier", "", "In-process oracle Paillier key (default <data>/oracle/paillier.json)")
	flag.StringVar(&cfg.SeedPath, "bls", "", "In-process oracle committee seed (default <data>/oracle/bls.seed)")
	flag.IntVar(&cfg.Members, "members", 3, "In-process oracle committee size")
	flag.DurationVar(&cfg.OracleDelay, "delay", 0, "In-process oracle delay before each decryption")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Rotated log file path")
	flag.DurationVar(&cfg.SnapshotInterval, "snapshot-interval", time.Minute, "Background snapshot period (0 disables)")
	flag.StringVar(&cfg.ExportPath, "export", "", "Write a snapshot to this file and exit")
	flag.StringVar(&cfg.ImportPath, "import", "", "Load a snapshot from this file into an empty store and exit")
	flag.Parse()

	return cfg
}
