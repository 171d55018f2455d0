package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"

	"github.com/luxfi/fund/pkg/api"
	"github.com/luxfi/fund/pkg/events"
	"github.com/luxfi/fund/pkg/fund"
	"github.com/luxfi/fund/pkg/metrics"
	"github.com/luxfi/fund/pkg/websocket"
)

const (
	defaultDataDir     = ".fundd"
	defaultRPCPort     = 8080
	defaultWSPort      = 8081
	defaultMetricsPort = 9090
)

type Config struct {
	// Paths
	DataDir  string
	LogLevel string

	// Network
	RPCPort     int
	WSPort      int
	MetricsPort int

	// Share requests
	NativeAsset  string
	IncentiveFee int64
	MaxWait      time.Duration

	// Events
	NATSEnabled bool
	NATSUrl     string

	// Features
	EnableMetrics bool
}

type FundNode struct {
	config    *Config
	logger    log.Logger
	db        database.Database
	funds     *fund.FundManager
	requestor *fund.Requestor
	broker    *fund.Broker
	nats      *events.NATSPublisher
	metrics   *metrics.FundMetrics
	wsServer  *websocket.Server

	// Lifecycle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	servers []*http.Server
}

func NewFundNode(config *Config, logger log.Logger) (*FundNode, error) {
	dataPath := filepath.Join(os.Getenv("HOME"), config.DataDir)
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// BadgerDB by default, in-memory fallback.
	dbManager := manager.NewManager(dataPath, nil)
	dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
	dbConfig.Namespace = "fundd"

	db, err := dbManager.New(dbConfig)
	if err != nil {
		logger.Warn("failed to open BadgerDB, using in-memory database", "error", err)
		memConfig := manager.DefaultMemoryConfig()
		db, err = dbManager.New(memConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	} else {
		logger.Info("database initialized", "path", filepath.Join(dataPath, "badgerdb"))
	}

	ledger := fund.NewMemoryLedger()
	prices := fund.NewFeedPriceSource()
	funds := fund.NewFundManager(ledger, prices)
	requestor := fund.NewRequestor(funds, fund.RequestorConfig{
		NativeAsset:  config.NativeAsset,
		IncentiveFee: big.NewInt(config.IncentiveFee),
		MaxWait:      config.MaxWait,
	})

	store := fund.NewStore(db)
	funds.SetStore(store)
	if err := store.LoadFunds(funds); err != nil {
		return nil, fmt.Errorf("failed to load funds: %w", err)
	}
	if err := store.LoadRequests(requestor); err != nil {
		return nil, fmt.Errorf("failed to load requests: %w", err)
	}

	broker := fund.NewBroker()
	publishers := fund.MultiPublisher{broker}

	var natsPub *events.NATSPublisher
	if config.NATSEnabled {
		natsPub, err = events.NewNATSPublisher(config.NATSUrl, events.DefaultSubjectPrefix)
		if err != nil {
			logger.Warn("NATS unavailable, events stay local", "url", config.NATSUrl, "error", err)
		} else {
			publishers = append(publishers, natsPub)
			logger.Info("NATS event publisher connected", "url", config.NATSUrl)
		}
	}
	funds.SetPublisher(publishers)

	ctx, cancel := context.WithCancel(context.Background())

	node := &FundNode{
		config:    config,
		logger:    logger,
		db:        db,
		funds:     funds,
		requestor: requestor,
		broker:    broker,
		nats:      natsPub,
		ctx:       ctx,
		cancel:    cancel,
	}
	if config.EnableMetrics {
		node.metrics = metrics.NewFundMetrics("fundd")
	}
	return node, nil
}

func (n *FundNode) Start() error {
	n.logger.Info("starting fund node",
		"data_dir", filepath.Join(os.Getenv("HOME"), n.config.DataDir),
		"rpc_port", n.config.RPCPort,
		"ws_port", n.config.WSPort,
		"funds", len(n.funds.ListFunds()))

	// JSON-RPC API
	rpcServer := api.NewJSONRPCServer(n.funds, n.requestor, n.logger.New("module", "api"))
	mux := http.NewServeMux()
	mux.Handle("/rpc", rpcServer)
	n.serveHTTP("rpc", n.config.RPCPort, mux)

	// WebSocket event streaming
	n.wsServer = websocket.NewServer()
	n.wsServer.Run(n.broker.Subscribe())
	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", n.wsServer)
	n.serveHTTP("websocket", n.config.WSPort, wsMux)

	// Prometheus metrics
	if n.metrics != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.metrics.Consume(n.broker.Subscribe())
		}()
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", n.metrics.Handler())
		n.serveHTTP("metrics", n.config.MetricsPort, metricsMux)
	}

	n.wg.Add(1)
	go n.printStats()

	n.logger.Info("fund node started")
	return nil
}

func (n *FundNode) serveHTTP(name string, port int, handler http.Handler) {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}
	n.servers = append(n.servers, srv)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.logger.Info("http server listening", "name", name, "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.logger.Error("http server failed", "name", name, "error", err)
		}
	}()
}

func (n *FundNode) printStats() {
	defer n.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			hubs := n.funds.ListFunds()
			active := 0
			for _, h := range hubs {
				if h.IsActive() {
					active++
				}
			}
			if n.metrics != nil {
				n.metrics.SetClientCount(n.wsServer.ClientCount())
			}
			n.logger.Info("node status",
				"uptime", time.Since(startTime).Round(time.Second),
				"funds", len(hubs),
				"active", active,
				"ws_clients", n.wsServer.ClientCount())
		}
	}
}

func (n *FundNode) Shutdown() {
	n.logger.Info("shutting down fund node")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range n.servers {
		srv.Shutdown(shutdownCtx)
	}

	if n.wsServer != nil {
		n.wsServer.Stop()
	}
	n.cancel()
	n.wg.Wait()

	if n.nats != nil {
		n.nats.Close()
	}
	if n.db != nil {
		n.db.Close()
	}

	n.logger.Info("fund node shutdown complete")
}

func main() {
	config := &Config{}

	flag.StringVar(&config.DataDir, "data-dir", defaultDataDir, "Data directory (relative to $HOME)")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.IntVar(&config.RPCPort, "rpc-port", defaultRPCPort, "JSON-RPC API port")
	flag.IntVar(&config.WSPort, "ws-port", defaultWSPort, "WebSocket port")
	flag.IntVar(&config.MetricsPort, "metrics-port", defaultMetricsPort, "Prometheus metrics port")

	flag.StringVar(&config.NativeAsset, "native-asset", "LUX", "Asset used for request incentives")
	flag.Int64Var(&config.IncentiveFee, "incentive-fee", 0, "Incentive escrowed with each share request")
	flag.DurationVar(&config.MaxWait, "max-request-wait", fund.DefaultMaxRequestWait, "Age past which an unexecuted request may be canceled")

	flag.BoolVar(&config.NATSEnabled, "nats", false, "Publish events to NATS")
	flag.StringVar(&config.NATSUrl, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")

	flag.BoolVar(&config.EnableMetrics, "enable-metrics", true, "Enable Prometheus metrics")

	flag.Parse()

	level, err := log.ToLevel(config.LogLevel)
	if err != nil {
		fmt.Printf("invalid log level %q: %v\n", config.LogLevel, err)
		os.Exit(1)
	}
	logger := log.NewTestLogger(level).New("node", "fundd")

	logger.Info("fundd", "platform", runtime.GOOS+"/"+runtime.GOARCH, "cpus", runtime.NumCPU())

	node, err := NewFundNode(config, logger)
	if err != nil {
		logger.Error("failed to create node", "error", err)
		os.Exit(1)
	}
	if err := node.Start(); err != nil {
		logger.Error("failed to start node", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received signal", "signal", sig.String())

	node.Shutdown()
}
