package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/tee-oracle-bridge/chain"
	"github.com/ruteri/tee-oracle-bridge/cmd/flags"
	"github.com/ruteri/tee-oracle-bridge/dispatch"
	"github.com/ruteri/tee-oracle-bridge/metrics"
	"github.com/ruteri/tee-oracle-bridge/watcher"
)

var appFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:  "tee-key",
		Usage: "hex-encoded secp256k1 private key (generated when empty)",
	},
	&cli.StringFlag{
		Name:  "gateway-address",
		Value: "0x00000000000000000000000000000000000000a1",
		Usage: "gateway contract address",
	},
	&cli.StringFlag{
		Name:  "bridge-address",
		Value: "0x00000000000000000000000000000000000000b1",
		Usage: "caller address for requests received over HTTP",
	},
	&cli.StringFlag{
		Name:  "attestation",
		Value: "stub",
		Usage: "attestation provider: 'dcap' or 'stub'",
	},
}, flags.ServerFlags...)

func main() {
	app := &cli.App{
		Name:   "watcher",
		Usage:  "Run the TEE executor: accept dispatched requests, fulfill oracle and VRF requests",
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

	teeKey, err := loadOrGenerateKey(cCtx.String("tee-key"))
	if err != nil {
		logger.Error("Invalid tee-key", "err", err)
		return err
	}
	prover := watcher.NewProver(teeKey)
	relayerAddr := crypto.PubkeyToAddress(teeKey.PublicKey)

	attestKey(cCtx.String("attestation"), prover, logger)

	gatewayAddr := common.HexToAddress(cCtx.String("gateway-address"))
	gateway := chain.NewGateway(gatewayAddr)
	gateway.RegisterOracle(chain.NewOracleContract(gatewayAddr))
	gateway.RegisterVRF(chain.NewVRFContract(gatewayAddr, prover.PublicKey()))
	gateway.AddRelayer(relayerAddr)
	ledger := chain.NewLedger()

	w := watcher.New(ledger, gateway, relayerAddr, prover, watcher.NewFetcher(nil), logger)
	go func() {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Watcher stopped", "err", err)
		}
	}()

	bridgeAddr := common.HexToAddress(cCtx.String("bridge-address"))
	mux := chi.NewRouter()
	mux.Use(func(next http.Handler) http.Handler {
		return httplogger.LoggingMiddlewareSlog(logger, next)
	})
	mux.Post(dispatch.DispatchPath, func(rw http.ResponseWriter, r *http.Request) {
		handleDispatch(rw, r, ledger, gateway, bridgeAddr)
	})
	mux.Get("/livez", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.Write([]byte(`{"status":"alive"}`))
	})

	srv := &http.Server{
		Addr:         cCtx.String(flags.ListenAddrFlag.Name),
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	metricsSrv := metrics.New(cCtx.String(flags.MetricsAddrFlag.Name))
	go func() {
		if err := metricsSrv.Start(); err != nil {
			logger.Error("Metrics server failed", "err", err)
		}
	}()
	go func() {
		logger.Info("Starting watcher HTTP server", "listenAddress", srv.Addr, "relayer", relayerAddr.Hex())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful HTTP server shutdown failed", "err", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful metrics server shutdown failed", "err", err)
	}
	return nil
}

// handleDispatch accepts a request envelope from the bridge and submits it
// through the gateway. The watcher loop picks the emitted event up and
// fulfills it like any other on-chain request.
func handleDispatch(rw http.ResponseWriter, r *http.Request, ledger *chain.Ledger, gateway *chain.Gateway, from common.Address) {
	var envelope dispatch.Envelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		http.Error(rw, "malformed envelope", http.StatusBadRequest)
		return
	}
	kind, payload, err := dispatch.EncodePayload(envelope.Request)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	consumer := common.HexToAddress(envelope.Request.Consumer)
	err = ledger.Submit(from, func(rt chain.Runtime) error {
		_, err := gateway.Request(rt, kind, consumer, payload)
		return err
	})
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadGateway)
		return
	}
	rw.WriteHeader(http.StatusAccepted)
}

func attestKey(provider string, prover *watcher.Prover, logger *slog.Logger) {
	var attester watcher.AttestationProvider = watcher.StubAttestationProvider{}
	if provider == "dcap" {
		attester = watcher.DCAPAttestationProvider{}
	}
	var reportData [64]byte
	copy(reportData[:], prover.PublicKey())
	quote, err := attester.Attest(reportData)
	if err != nil {
		logger.Warn("Key attestation failed", "err", err, "provider", provider)
		return
	}
	logger.Info("Key attested", "provider", provider, "public_key", common.Bytes2Hex(prover.PublicKey()), "quote_bytes", len(quote))
}

func loadOrGenerateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		return crypto.GenerateKey()
	}
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}
