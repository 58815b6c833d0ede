package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	ipfsapi "github.com/ipfs/go-ipfs-api"

	"github.com/ruteri/tee-oracle-bridge/interfaces"
)

// IPFSArchive writes terminal request records to IPFS through a node's HTTP
// API. The archive is content-addressed: the CID of each record is logged so
// auditors can pin and fetch it independently.
type IPFSArchive struct {
	shell       *ipfsapi.Shell
	log         *slog.Logger
	locationURI string
}

// NewIPFSArchive creates an archive sink talking to the IPFS API at apiAddr,
// e.g. "127.0.0.1:5001".
func NewIPFSArchive(apiAddr string, log *slog.Logger) (*IPFSArchive, error) {
	shell := ipfsapi.NewShell(apiAddr)
	if shell == nil {
		return nil, fmt.Errorf("failed to create IPFS shell for %s", apiAddr)
	}
	return &IPFSArchive{
		shell:       shell,
		log:         log,
		locationURI: "ipfs://" + apiAddr,
	}, nil
}

// Archive adds the request record to IPFS and pins it.
func (a *IPFSArchive) Archive(_ context.Context, req interfaces.Request) error {
	if !a.shell.IsUp() {
		return fmt.Errorf("IPFS node at %s is not available", a.locationURI)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	cid, err := a.shell.Add(bytes.NewReader(data), ipfsapi.Pin(true))
	if err != nil {
		return fmt.Errorf("failed to add archive record to IPFS: %w", err)
	}
	a.log.Info("archived request to IPFS", "request_id", req.ID, "cid", cid)
	return nil
}

// LocationURI returns the sink's canonical URI.
func (a *IPFSArchive) LocationURI() string {
	return a.locationURI
}
