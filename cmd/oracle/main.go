package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"VeilSum/internal/logger"
	"VeilSum/internal/network"
	"VeilSum/internal/oracle"
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

	if cfg.Generate {
		return generate(cfg)
	}

	return serve(cfg)
}

// generate writes fresh key material and the public files ledger nodes need.
func generate(cfg *Config) error {
	material, err := oracle.GenerateMaterial(cfg.Bits, cfg.Members, cfg.Threshold)
	if err != nil {
		return err
	}

	signer, err := material.Signer()
	if err != nil {
		return fmt.Errorf("build committee:\n%w", err)
	}

	if err := material.Save(cfg.PaillierPath, cfg.SeedPath); err != nil {
		return err
	}

	if err := oracle.WritePublicKey(cfg.PaillierPubPath, material.Key.Public); err != nil {
		return err
	}

	if err := oracle.WriteCommittee(cfg.CommitteePath, signer.Committee()); err != nil {
		return err
	}

	key, err := network.LoadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load transport key:\n%w", err)
	}

	logger.Info("oracle material written",
		"paillier", cfg.PaillierPath,
		"seed", cfg.SeedPath,
		"public", cfg.PaillierPubPath,
		"committee", cfg.CommitteePath,
		"transport", hex.EncodeToString(key.Public().(ed25519.PublicKey)),
	)

	return nil
}

// serve runs the oracle until SIGINT or SIGTERM.
func serve(cfg *Config) error {
	key, err := network.LoadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load transport key:\n%w", err)
	}

	allowed, err := parseAllow(cfg.Allow)
	if err != nil {
		return err
	}

	material, err := oracle.LoadMaterial(cfg.PaillierPath, cfg.SeedPath)
	if err != nil {
		return err
	}

	signer, err := material.Signer()
	if err != nil {
		return fmt.Errorf("build committee:\n%w", err)
	}

	service, err := oracle.NewService(oracle.Config{
		Decryptor: material.Key,
		Signer:    signer,
		Delay:     cfg.Delay,
	})
	if err != nil {
		return fmt.Errorf("create service:\n%w", err)
	}

	node, err := network.NewNode(network.Config{
		PrivateKey:   key,
		ListenAddr:   cfg.QUICAddress,
		AllowedPeers: allowed,
	})
	if err != nil {
		return fmt.Errorf("init network:\n%w", err)
	}

	oracle.NewServer(node, service)
	service.Start()

	if err := node.Start(); err != nil {
		service.Close()
		return fmt.Errorf("start network:\n%w", err)
	}

	logger.Info("starting oracle",
		"pubkey", hex.EncodeToString(node.PublicKey()),
		"quic", node.Addr(),
		"members", len(material.Key.Shares),
		"threshold", material.Key.Threshold,
		"allowed", len(allowed),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	service.Close()

	return node.Close()
}

// parseAllow decodes the -allow list.
func parseAllow(s string) ([]ed25519.PublicKey, error) {
	var keys []ed25519.PublicKey

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		pk, err := network.ParsePublicKey(part)
		if err != nil {
			return nil, fmt.Errorf("parse -allow:\n%w", err)
		}

		keys = append(keys, pk)
	}

	return keys, nil
}
