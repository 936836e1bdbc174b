package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/zeebo/blake3"

	"VeilSum/internal/api"
	"VeilSum/internal/fhe"
	"VeilSum/internal/ledger"
	"VeilSum/internal/logger"
	"VeilSum/internal/metrics"
	"VeilSum/internal/network"
	"VeilSum/internal/oracle"
	"VeilSum/internal/proof"
	"VeilSum/internal/snapshot"
	"VeilSum/internal/storage"
)

const (
	// oracleConnectRetries bounds the initial attempts to reach a remote oracle.
	oracleConnectRetries = 5

	// oracleRetryDelay is the delay between initial connection attempts.
	oracleRetryDelay = 2 * time.Second
)

// Node represents a running ledger node.
type Node struct {
	cfg     *Config
	storage *storage.Storage
	ledger  *ledger.Ledger
	metrics *metrics.Metrics
	api     *api.Server
	snaps   *snapshot.Manager // snaps takes background snapshots, nil when disabled

	service *oracle.Service // service is the in-process oracle, nil in remote mode
	network *network.Node   // network carries the remote oracle link, nil in process
	client  *oracle.Client  // client talks to the remote oracle

	closeOnce sync.Once // closeOnce makes Close safe after a failed Run
	closeErr  error     // closeErr is the storage close result
}

// oracleParts are the ledger collaborators provided by the oracle setup.
type oracleParts struct {
	scheme   fhe.Scheme
	oracle   ledger.Oracle
	verifier ledger.ProofVerifier
}

// NewNode creates and initializes a new node.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg, metrics: metrics.New()}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	parts, err := n.initOracle()
	if err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initLedger(parts); err != nil {
		n.Close()
		return nil, err
	}

	if n.service != nil {
		n.service.SetDeliverer(oracle.Local{Ledger: n.ledger})
	}

	return n, nil
}

// initStorage initializes the Pebble storage.
func (n *Node) initStorage() error {
	db, err := openStorage(n.cfg.DataPath)
	if err != nil {
		return err
	}

	n.storage = db

	return nil
}

// openStorage opens the store under dataPath, creating the directory.
func openStorage(dataPath string) (*storage.Storage, error) {
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.New(filepath.Join(dataPath, "db"))
	if err != nil {
		return nil, fmt.Errorf("init storage:\n%w", err)
	}

	return db, nil
}

// initOracle sets up the in-process oracle or the link to a remote one.
func (n *Node) initOracle() (*oracleParts, error) {
	if n.cfg.OracleAddress == "" {
		return n.initLocalOracle()
	}

	return n.initRemoteOracle()
}

// initLocalOracle loads or generates the oracle key material under the data
// directory and runs the service in process.
func (n *Node) initLocalOracle() (*oracleParts, error) {
	dir := filepath.Join(n.cfg.DataPath, "oracle")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create oracle directory:\n%w", err)
	}

	keyPath := orDefault(n.cfg.PaillierPath, filepath.Join(dir, "paillier.json"))
	seedPath := orDefault(n.cfg.SeedPath, filepath.Join(dir, "bls.seed"))

	material, err := oracle.LoadOrGenerateMaterial(keyPath, seedPath, oracle.DefaultModulusBits, n.cfg.Members, n.cfg.Threshold)
	if err != nil {
		return nil, fmt.Errorf("load oracle material:\n%w", err)
	}

	signer, err := material.Signer()
	if err != nil {
		return nil, fmt.Errorf("build committee:\n%w", err)
	}

	service, err := oracle.NewService(oracle.Config{
		Decryptor: material.Key,
		Signer:    signer,
		Delay:     n.cfg.OracleDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("create oracle service:\n%w", err)
	}

	n.service = service

	return &oracleParts{
		scheme:   material.Key.Scheme(),
		oracle:   service,
		verifier: service.Committee(),
	}, nil
}

// initRemoteOracle loads the oracle's public material and opens the
// transport, accepting only the oracle's key.
func (n *Node) initRemoteOracle() (*oracleParts, error) {
	if n.cfg.OracleKey == "" || n.cfg.CommitteePath == "" || n.cfg.PaillierPubPath == "" {
		return nil, fmt.Errorf("remote oracle requires -oracle-key, -committee and -paillier-pub")
	}

	oracleKey, err := network.ParsePublicKey(n.cfg.OracleKey)
	if err != nil {
		return nil, fmt.Errorf("parse oracle key:\n%w", err)
	}

	committee, err := proof.LoadCommitteeFile(n.cfg.CommitteePath, n.cfg.Threshold)
	if err != nil {
		return nil, fmt.Errorf("load committee:\n%w", err)
	}

	pk, err := oracle.LoadPublicKey(n.cfg.PaillierPubPath)
	if err != nil {
		return nil, fmt.Errorf("load encryption key:\n%w", err)
	}

	node, err := network.NewNode(network.Config{
		PrivateKey:   n.cfg.PrivateKey,
		ListenAddr:   n.cfg.QUICAddress,
		AllowedPeers: []ed25519.PublicKey{oracleKey},
	})
	if err != nil {
		return nil, fmt.Errorf("init network:\n%w", err)
	}

	n.network = node
	n.client = oracle.NewClient(node, n.cfg.OracleAddress, oracleKey, n)

	return &oracleParts{
		scheme:   fhe.NewPaillier(pk),
		oracle:   n.client,
		verifier: committee,
	}, nil
}

// initLedger opens the ledger and runs genesis on a fresh store.
func (n *Node) initLedger(parts *oracleParts) error {
	l, err := ledger.New(ledger.Config{
		Storage:  n.storage,
		Scheme:   parts.scheme,
		Oracle:   parts.oracle,
		Verifier: parts.verifier,
		Observer: n.metrics,
	})
	if err != nil {
		return fmt.Errorf("init ledger:\n%w", err)
	}

	if err := n.metrics.Attach(l); err != nil {
		return fmt.Errorf("attach metrics:\n%w", err)
	}

	n.ledger = l

	initialized, err := l.Initialized()
	if err != nil {
		return fmt.Errorf("read ledger state:\n%w", err)
	}

	if initialized {
		return nil
	}

	return n.genesis()
}

// genesis initialises the ledger from the node flags.
func (n *Node) genesis() error {
	var owner ledger.Actor
	copy(owner[:], n.cfg.PrivateKey.Public().(ed25519.PublicKey))

	if n.cfg.Owner != "" {
		var err error
		if owner, err = ledger.ParseActor(n.cfg.Owner); err != nil {
			return fmt.Errorf("parse owner:\n%w", err)
		}
	}

	identity := ledger.Hash(blake3.Sum256([]byte(n.cfg.LedgerID)))

	if err := n.ledger.Genesis(owner, n.cfg.Cooldown, identity); err != nil {
		return fmt.Errorf("genesis:\n%w", err)
	}

	logger.Info("ledger initialized",
		"owner", owner.String(),
		"cooldown", n.cfg.Cooldown,
		"identity", hex.EncodeToString(identity[:8]),
	)

	return nil
}

// Deliver hands an oracle delivery to the ledger.
func (n *Node) Deliver(requestID string, cleartexts, proof []byte) (ledger.Result, error) {
	return n.ledger.Deliver(requestID, cleartexts, proof)
}

// Run starts the node and blocks until shutdown signal.
func (n *Node) Run() error {
	if n.service != nil {
		n.service.Start()
	}

	if n.network != nil {
		if err := n.network.Start(); err != nil {
			return fmt.Errorf("start network:\n%w", err)
		}

		go n.connectOracle()
	}

	apiCfg := api.Config{
		Addr:    n.cfg.HTTPAddress,
		Ledger:  n.ledger,
		Metrics: n.metrics,
	}

	if n.cfg.SnapshotInterval > 0 {
		n.snaps = snapshot.NewManager(n.storage, n.ledger, filepath.Join(n.cfg.DataPath, "snapshots"), n.cfg.SnapshotInterval)
		n.snaps.Start()
		apiCfg.Snapshots = n.snaps
	}

	server, err := api.New(apiCfg)
	if err != nil {
		return fmt.Errorf("create api:\n%w", err)
	}

	n.api = server
	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	return n.waitForShutdown()
}

// connectOracle dials the remote oracle with retries. Once connected, the
// transport redials it after a disconnect.
func (n *Node) connectOracle() {
	for attempt := 0; attempt < oracleConnectRetries; attempt++ {
		err := n.client.Connect()
		if err == nil {
			return
		}

		if attempt < oracleConnectRetries-1 {
			logger.Debug("retrying oracle connection",
				"addr", n.cfg.OracleAddress,
				"attempt", attempt+1,
				"error", err,
			)
			time.Sleep(oracleRetryDelay)
		} else {
			logger.Warn("failed to connect to oracle after retries",
				"addr", n.cfg.OracleAddress,
				"attempts", oracleConnectRetries,
			)
		}
	}
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close shuts down all node components gracefully. Later calls return the
// first result.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		if n.api != nil {
			n.api.Stop()
		}

		if n.snaps != nil {
			n.snaps.Stop()
		}

		if n.service != nil {
			n.service.Close()
		}

		if n.network != nil {
			n.network.Close()
		}

		if n.storage != nil {
			n.closeErr = n.storage.Close()
		}
	})

	return n.closeErr
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
