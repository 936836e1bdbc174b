package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"VeilSum/internal/logger"
	"VeilSum/internal/network"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run() error {
	cfg := parseFlags()

	logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	if cfg.ExportPath != "" || cfg.ImportPath != "" {
		return runSnapshot(cfg)
	}

	var err error
	cfg.PrivateKey, err = network.LoadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	node, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	printStartupInfo(cfg)

	return serve(node)
}

// serve runs the node and releases it when startup fails. A clean Run has
// already closed the node on shutdown.
func serve(node *Node) error {
	if err := node.Run(); err != nil {
		node.Close()
		return err
	}

	return nil
}

// printStartupInfo displays node configuration at startup.
func printStartupInfo(cfg *Config) {
	pubKey := cfg.PrivateKey.Public().(ed25519.PublicKey)

	oracleMode := "in-process"
	if cfg.OracleAddress != "" {
		oracleMode = cfg.OracleAddress
	}

	logger.Info("starting ledger node",
		"pubkey", hex.EncodeToString(pubKey),
		"http", cfg.HTTPAddress,
		"data", cfg.DataPath,
		"oracle", oracleMode,
	)
}
