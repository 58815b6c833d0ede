package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ruteri/tee-oracle-bridge/chain"
	"github.com/ruteri/tee-oracle-bridge/interfaces"
)

// ChainDispatcher submits created requests directly through the on-chain
// gateway, for deployments where OnRequest itself is the dispatch channel.
// After a successful submission it records the assigned on-chain request ID in
// the off-chain record's metadata so the reconciler can correlate the two.
type ChainDispatcher struct {
	ledger   *chain.Ledger
	gateway  *chain.Gateway
	requests interfaces.RequestStore
	// from is the bridge's on-chain identity used as the submitting caller.
	from common.Address
	log  *slog.Logger
}

// NewChainDispatcher creates a dispatcher submitting as the given address.
func NewChainDispatcher(ledger *chain.Ledger, gateway *chain.Gateway, requests interfaces.RequestStore, from common.Address, log *slog.Logger) *ChainDispatcher {
	return &ChainDispatcher{ledger: ledger, gateway: gateway, requests: requests, from: from, log: log}
}

// Dispatch encodes the request's payload from its metadata, submits it through
// the gateway and persists the on-chain request ID correlation.
func (d *ChainDispatcher) Dispatch(ctx context.Context, req interfaces.Request, _ interfaces.Key) error {
	kind, payload, err := EncodePayload(req)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(req.Consumer) {
		return &interfaces.ValidationError{Field: "consumer", Reason: "must be a hex contract address for on-chain dispatch"}
	}
	consumer := common.HexToAddress(req.Consumer)

	var onchainID uint64
	err = d.ledger.Submit(d.from, func(rt chain.Runtime) error {
		id, err := d.gateway.Request(rt, kind, consumer, payload)
		if err != nil {
			return err
		}
		onchainID = id
		return nil
	})
	if err != nil {
		return fmt.Errorf("gateway submission failed: %w", err)
	}

	if _, err := d.requests.UpdateRequestMetadata(ctx, req.ID, map[string]string{
		interfaces.MetadataOnchainRequestID: strconv.FormatUint(onchainID, 10),
	}); err != nil {
		// The on-chain request is live; losing the correlation only delays
		// reconciliation, so surface but do not unwind.
		d.log.Error("failed to record onchain request id", "err", err, "request_id", req.ID, "onchain_request_id", onchainID)
		return err
	}
	d.log.Info("request submitted on-chain", "request_id", req.ID, "onchain_request_id", onchainID, "service", string(kind))
	return nil
}

// EncodePayload builds the on-chain request payload from a request record's
// metadata. Shared between the chain dispatcher and executors that receive
// the record over HTTP and submit it themselves.
func EncodePayload(req interfaces.Request) (chain.ServiceKind, []byte, error) {
	service := req.Metadata[MetadataService]
	switch service {
	case "", string(chain.ServiceVRF):
		numWords := uint64(1)
		if raw := req.Metadata[MetadataNumWords]; raw != "" {
			parsed, err := strconv.ParseUint(raw, 10, 8)
			if err != nil {
				return "", nil, &interfaces.ValidationError{Field: MetadataNumWords, Reason: "must be a small decimal integer"}
			}
			numWords = parsed
		}
		payload, err := chain.EncodeVRFRequest(chain.VRFRequestPayload{
			Seed:     []byte(req.Seed),
			NumWords: uint8(numWords),
		})
		return chain.ServiceVRF, payload, err
	case string(chain.ServiceOracle):
		payload, err := chain.EncodeOracleRequest(chain.OracleRequestPayload{
			URL:      req.Metadata[MetadataURL],
			Method:   req.Metadata[MetadataMethod],
			JSONPath: req.Metadata[MetadataJSONPath],
		})
		return chain.ServiceOracle, payload, err
	default:
		return "", nil, &interfaces.ValidationError{Field: MetadataService, Reason: "unknown service kind"}
	}
}
