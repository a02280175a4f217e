package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"Attestor/internal/api"
	"Attestor/internal/config"
	"Attestor/internal/gateway"
	"Attestor/internal/logger"
	"Attestor/internal/relay"
	"Attestor/internal/snapshot"
	"Attestor/internal/storage"
)

// newServeCmd runs the node until SIGINT or SIGTERM.
func newServeCmd(flags *rootFlags) *cobra.Command {
	var overrides struct {
		dataDir  string
		httpAddr string
		quicAddr string
		logLevel string
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and QUIC relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("data") {
				cfg.DataDir = overrides.dataDir
			}
			if cmd.Flags().Changed("http") {
				cfg.HTTPAddr = overrides.httpAddr
			}
			if cmd.Flags().Changed("quic") {
				cfg.QUICAddr = overrides.quicAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = overrides.logLevel
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config:\n%w", err)
			}

			node, err := NewNode(cfg)
			if err != nil {
				return err
			}

			return node.Run()
		},
	}

	cmd.Flags().StringVar(&overrides.dataDir, "data", "", "data directory path")
	cmd.Flags().StringVar(&overrides.httpAddr, "http", "", "HTTP API address")
	cmd.Flags().StringVar(&overrides.quicAddr, "quic", "", "QUIC relay address, empty disables the relay")
	cmd.Flags().StringVar(&overrides.logLevel, "log-level", "", "log level")

	return cmd
}

// Node owns the running components.
type Node struct {
	cfg     config.Config     // cfg is the validated configuration
	logs    io.Closer         // logs closes the rotating log file
	storage *storage.Storage  // storage is the pebble store
	gateway *gateway.Gateway  // gateway is the verification state
	api     *api.Server       // api is the HTTP server
	relay   *relay.Server     // relay is the QUIC server, nil when disabled
	snaps   *snapshot.Manager // snaps keeps the snapshot served over HTTP
}

// NewNode opens storage and prepares the gateway. The gateway is
// initialized from the config on first start.
func NewNode(cfg config.Config) (*Node, error) {
	logs, err := logger.Setup(cfg.LoggerOptions())
	if err != nil {
		return nil, fmt.Errorf("setup logger:\n%w", err)
	}

	n := &Node{cfg: cfg, logs: logs}

	if err := n.initStorage(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initGateway(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initRelay(); err != nil {
		n.Close()
		return nil, err
	}

	n.snaps = snapshot.NewManager(n.storage, n.gateway, gateway.Prefixes(), 0)

	n.api = api.New(cfg.HTTPAddr, n.gateway, api.Options{
		Gatherer: prometheus.DefaultGatherer,
		Snapshot: n.snaps.Snapshot,
	})

	return n, nil
}

// initStorage opens the pebble store in the data directory.
func (n *Node) initStorage() error {
	if err := os.MkdirAll(n.cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir:\n%w", err)
	}

	db, err := storage.New(filepath.Join(n.cfg.DataDir, "db"))
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}

	n.storage = db

	return nil
}

// initGateway creates the gateway and applies the genesis settings if
// the store is empty.
func (n *Node) initGateway() error {
	h, err := n.cfg.HashFunction()
	if err != nil {
		return err
	}

	n.gateway = gateway.New(n.storage, gateway.Options{
		Hash:       h,
		Registerer: prometheus.DefaultRegisterer,
	})

	ctx := context.Background()

	cfg, err := n.gateway.Config(ctx)
	if err == nil {
		logger.Info("gateway loaded", "epoch", cfg.CurrentEpoch, "hash", h.Name())
		return nil
	}

	if !errors.Is(err, gateway.ErrNotInitialized) {
		return fmt.Errorf("load gateway:\n%w", err)
	}

	params, err := n.cfg.Gateway.InitParams(h)
	if err != nil {
		return fmt.Errorf("gateway genesis:\n%w", err)
	}

	if err := n.gateway.Initialize(ctx, params); err != nil {
		return fmt.Errorf("initialize gateway:\n%w", err)
	}

	return nil
}

// initRelay creates the QUIC relay unless disabled.
func (n *Node) initRelay() error {
	if n.cfg.QUICAddr == "" {
		return nil
	}

	key, err := relay.LoadOrGenerateKey(n.cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load relay key:\n%w", err)
	}

	n.relay, err = relay.NewServer(relay.Config{PrivateKey: key, ListenAddr: n.cfg.QUICAddr}, n.gateway)
	if err != nil {
		return fmt.Errorf("create relay:\n%w", err)
	}

	return nil
}

// Run starts the servers and blocks until a shutdown signal.
func (n *Node) Run() error {
	if n.relay != nil {
		if err := n.relay.Start(); err != nil {
			n.Close()
			return fmt.Errorf("start relay:\n%w", err)
		}
	}

	n.snaps.Start()

	if err := n.api.Start(); err != nil {
		n.Close()
		return fmt.Errorf("start api:\n%w", err)
	}

	logger.Info("attestor started",
		"http", n.cfg.HTTPAddr,
		"quic", n.cfg.QUICAddr,
		"data", n.cfg.DataDir,
	)

	return n.waitForShutdown()
}

// waitForShutdown blocks until SIGINT or SIGTERM, then closes the node.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close shuts down all components.
func (n *Node) Close() error {
	if n.api != nil {
		n.api.Stop()
	}

	if n.relay != nil {
		n.relay.Close()
	}

	if n.snaps != nil {
		n.snaps.Stop()
	}

	var err error
	if n.storage != nil {
		err = n.storage.Close()
	}

	if n.logs != nil {
		n.logs.Close()
	}

	return err
}
