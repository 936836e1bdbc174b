package main

import (
	"flag"
	"time"
)

// Config holds the oracle configuration.
type Config struct {
	// QUICAddress is the QUIC listen address for ledger nodes.
	QUICAddress string

	// KeyPath is the path to the Ed25519 transport key file.
	KeyPath string

	// PaillierPath is the Paillier private key file.
	PaillierPath string

	// SeedPath is the committee seed file.
	SeedPath string

	// Members is the committee size used by -gen.
	Members int

	// Threshold is the number of members that decrypt and sign, used by -gen.
	Threshold int

	// Delay is waited before each decryption.
	Delay time.Duration

	// Allow is a comma-separated list of hex ledger node transport keys.
	// Empty accepts any node.
	Allow string

	// Generate writes fresh key material and exits.
	Generate bool

	// Bits is the Paillier modulus size used by -gen.
	Bits int

	// PaillierPubPath receives the public key written by -gen.
	PaillierPubPath string

	// CommitteePath receives the committee public keys written by -gen.
	CommitteePath string

	// LogLevel is the minimum log level.
	LogLevel string

	// LogFile enables a rotated log file when set.
	LogFile string
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.QUICAddress, "quic", ":9500", "QUIC listen address")
	flag.StringVar(&cfg.KeyPath, "key", "oracle.key", "Ed25519 transport key path (generates new if missing)")
	flag.StringVar(&cfg.PaillierPath, "paillier", "paillier.json", "Paillier private key file")
	flag.StringVar(&cfg.SeedPath, "bls", "bls.seed", "Committee seed file")
	flag.IntVar(&cfg.Members, "members", 3, "Committee size for -gen")
	flag.IntVar(&cfg.Threshold, "threshold", 2, "Shares and signatures per decryption for -gen (a majority of -members)")
	flag.DurationVar(&cfg.Delay, "delay", 0, "Delay before each decryption")
	flag.StringVar(&cfg.Allow, "allow", "", "Comma-separated hex transport keys of ledger nodes (empty allows any)")
	flag.BoolVar(&cfg.Generate, "gen", false, "Write fresh key material and exit")
	flag.IntVar(&cfg.Bits, "bits", 2048, "Paillier modulus size for -gen")
	flag.StringVar(&cfg.PaillierPubPath, "paillier-pub", "paillier.pub.json", "Public key output for -gen")
	flag.StringVar(&cfg.CommitteePath, "committee", "committee.txt", "Committee public keys output for -gen")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Rotated log file path")
	flag.Parse()

	return cfg
}
