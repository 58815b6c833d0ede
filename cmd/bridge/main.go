package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/tee-oracle-bridge/bridge"
	"github.com/ruteri/tee-oracle-bridge/chain"
	"github.com/ruteri/tee-oracle-bridge/cmd/flags"
	"github.com/ruteri/tee-oracle-bridge/dispatch"
	"github.com/ruteri/tee-oracle-bridge/httpserver"
	"github.com/ruteri/tee-oracle-bridge/interfaces"
	"github.com/ruteri/tee-oracle-bridge/reconcile"
	"github.com/ruteri/tee-oracle-bridge/storage"
	"github.com/ruteri/tee-oracle-bridge/watcher"
)

var appFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:  "key-store",
		Value: "memory://",
		Usage: "key store URI: memory://, file://<dir>, postgres://..., vault://<host>/<mount>/<path>",
	},
	&cli.StringFlag{
		Name:  "request-store",
		Value: "memory://",
		Usage: "request store URI: memory://, file://<dir>, postgres://...",
	},
	&cli.StringSliceFlag{
		Name:  "archive",
		Usage: "archive sink URIs for terminal requests: file://<dir>, s3://bucket/prefix, ipfs://<api-addr>",
	},
	&cli.StringFlag{
		Name:  "dispatch-mode",
		Value: "chain",
		Usage: "dispatch channel: 'chain' (in-process gateway + watcher), 'http' (external watcher), 'none'",
	},
	&cli.StringSliceFlag{
		Name:  "watcher-endpoint",
		Usage: "watcher base URL(s) for http dispatch mode",
	},
	&cli.StringFlag{
		Name:  "watcher-srv-domain",
		Usage: "DNS SRV name to discover watcher endpoints, e.g. _watcher._tcp.bridge.internal",
	},
	&cli.StringFlag{
		Name:  "dns-server",
		Usage: "DNS resolver address for SRV discovery (defaults to the local stub resolver)",
	},
	&cli.StringFlag{
		Name:  "gateway-address",
		Value: "0x00000000000000000000000000000000000000a1",
		Usage: "gateway contract address for chain dispatch mode",
	},
	&cli.StringFlag{
		Name:  "bridge-address",
		Value: "0x00000000000000000000000000000000000000b1",
		Usage: "bridge's on-chain identity for submitting requests",
	},
	&cli.StringFlag{
		Name:  "tee-key",
		Usage: "hex-encoded secp256k1 private key for the in-process watcher (generated when empty)",
	},
	&cli.StringSliceFlag{
		Name:  "account",
		Usage: "account allowlist entries, '<account-id>=<wallet>[,<wallet>...]'",
	},
	&cli.BoolFlag{
		Name:  "allow-all-accounts",
		Usage: "accept every account and wallet (development only)",
	},
	&cli.IntFlag{
		Name:  "dispatch-retries",
		Value: 3,
		Usage: "total dispatch attempts per request",
	},
	&cli.Int64Flag{
		Name:  "dispatch-backoff-ms",
		Value: 200,
		Usage: "initial backoff between dispatch attempts",
	},
	&cli.Int64Flag{
		Name:  "reconcile-seconds",
		Value: 15,
		Usage: "reconciliation sweep interval (chain dispatch mode)",
	},
}, flags.ServerFlags...)

func main() {
	app := &cli.App{
		Name:   "bridge",
		Usage:  "Serve the TEE oracle bridge API",
		Flags:  appFlags,
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory := storage.NewFactory(logger)
	keyStore, err := factory.KeyStoreFor(ctx, cCtx.String("key-store"))
	if err != nil {
		logger.Error("Failed to create key store", "err", err)
		return err
	}
	requestStore, err := factory.RequestStoreFor(ctx, cCtx.String("request-store"))
	if err != nil {
		logger.Error("Failed to create request store", "err", err)
		return err
	}
	archives, err := factory.ArchiveSinksFor(cCtx.StringSlice("archive"))
	if err != nil {
		logger.Error("Failed to create archive sinks", "err", err)
		return err
	}

	accounts, err := accountRegistry(cCtx)
	if err != nil {
		logger.Error("Invalid account configuration", "err", err)
		return err
	}

	service := bridge.New(accounts, keyStore, requestStore, logger)
	service.WithDispatcherRetry(interfaces.RetryPolicy{
		MaxAttempts:     cCtx.Int("dispatch-retries"),
		InitialInterval: time.Duration(cCtx.Int64("dispatch-backoff-ms")) * time.Millisecond,
	})

	switch mode := cCtx.String("dispatch-mode"); mode {
	case "chain":
		if err := wireChainDispatch(ctx, cCtx, service, requestStore, archives, logger); err != nil {
			return err
		}
	case "http":
		resolver, err := endpointResolver(cCtx)
		if err != nil {
			logger.Error("Invalid watcher endpoint configuration", "err", err)
			return err
		}
		service.WithDispatcher(dispatch.NewHTTPDispatcher(nil, resolver, logger))
	case "none":
		logger.Warn("Dispatch disabled; created requests stay pending")
	default:
		return fmt.Errorf("invalid dispatch-mode: %s", mode)
	}

	srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger), httpserver.NewHandler(service, logger))
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}
	srv.RunInBackground()

	logger.Info("Bridge is running, press Ctrl+C to stop")
	<-ctx.Done()
	logger.Info("Shutdown signal received")
	srv.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}

// wireChainDispatch runs the full in-process chain deployment: ledger,
// gateway with both service contracts, the TEE watcher as an authorized
// relayer, and the reconciler converging off-chain records with chain state.
func wireChainDispatch(ctx context.Context, cCtx *cli.Context, service *bridge.Service, requestStore interfaces.RequestStore, archives []interfaces.ArchiveSink, logger *slog.Logger) error {
	teeKey, err := loadOrGenerateKey(cCtx.String("tee-key"))
	if err != nil {
		logger.Error("Invalid tee-key", "err", err)
		return err
	}
	prover := watcher.NewProver(teeKey)
	relayerAddr := crypto.PubkeyToAddress(teeKey.PublicKey)

	gatewayAddr := common.HexToAddress(cCtx.String("gateway-address"))
	gateway := chain.NewGateway(gatewayAddr)
	gateway.RegisterOracle(chain.NewOracleContract(gatewayAddr))
	gateway.RegisterVRF(chain.NewVRFContract(gatewayAddr, prover.PublicKey()))
	gateway.AddRelayer(relayerAddr)
	ledger := chain.NewLedger()

	bridgeAddr := common.HexToAddress(cCtx.String("bridge-address"))
	service.WithDispatcher(dispatch.NewChainDispatcher(ledger, gateway, requestStore, bridgeAddr, logger))

	w := watcher.New(ledger, gateway, relayerAddr, prover, watcher.NewFetcher(nil), logger)
	go func() {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Watcher stopped", "err", err)
		}
	}()

	interval := time.Duration(cCtx.Int64("reconcile-seconds")) * time.Second
	reconciler := reconcile.New(requestStore, chain.NewReader(gateway), archives, logger).WithInterval(interval)
	go func() {
		if err := reconciler.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Reconciler stopped", "err", err)
		}
	}()
	return nil
}

func accountRegistry(cCtx *cli.Context) (interfaces.AccountRegistry, error) {
	if cCtx.Bool("allow-all-accounts") {
		return bridge.AllowAllAccounts{}, nil
	}
	registry := bridge.NewStaticAccountRegistry()
	for _, entry := range cCtx.StringSlice("account") {
		accountID, wallets, found := strings.Cut(entry, "=")
		if !found || accountID == "" {
			return nil, fmt.Errorf("malformed account entry %q, want '<account-id>=<wallet>[,<wallet>...]'", entry)
		}
		registry.AddAccount(accountID, strings.Split(wallets, ",")...)
	}
	return registry, nil
}

func endpointResolver(cCtx *cli.Context) (dispatch.EndpointResolver, error) {
	if domain := cCtx.String("watcher-srv-domain"); domain != "" {
		return &dispatch.SRVResolver{Domain: domain, DNSServer: cCtx.String("dns-server")}, nil
	}
	endpoints := cCtx.StringSlice("watcher-endpoint")
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("http dispatch mode needs --watcher-endpoint or --watcher-srv-domain")
	}
	return dispatch.StaticEndpoints(endpoints), nil
}

func loadOrGenerateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		return crypto.GenerateKey()
	}
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}
