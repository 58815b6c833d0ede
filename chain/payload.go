package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
)

// Header is a single HTTP header the TEE attaches to an oracle fetch.
type Header struct {
	Name  string
	Value string
}

// OracleRequestPayload is the RLP-encoded body of an oracle request. Method
// defaults to GET; Headers and JSONPath are optional.
type OracleRequestPayload struct {
	URL      string
	Method   string
	Headers  []Header
	JSONPath string
}

// EncodeOracleRequest serializes an oracle request payload.
func EncodeOracleRequest(p OracleRequestPayload) ([]byte, error) {
	return rlp.EncodeToBytes(&p)
}

// DecodeOracleRequest deserializes and normalizes an oracle request payload.
// An empty URL is rejected; an empty method defaults to GET.
func DecodeOracleRequest(data []byte) (OracleRequestPayload, error) {
	var p OracleRequestPayload
	if err := rlp.DecodeBytes(data, &p); err != nil {
		return OracleRequestPayload{}, fmt.Errorf("malformed oracle payload: %w", err)
	}
	p.URL = strings.TrimSpace(p.URL)
	if p.URL == "" {
		return OracleRequestPayload{}, fmt.Errorf("oracle payload: url is required")
	}
	p.Method = strings.ToUpper(strings.TrimSpace(p.Method))
	if p.Method == "" {
		p.Method = "GET"
	}
	return p, nil
}

// VRFRequestPayload is the RLP-encoded body of a randomness request. Seed is
// the raw caller-supplied entropy; the contract enhances it before emitting
// the request event.
type VRFRequestPayload struct {
	Seed     []byte
	NumWords uint8
}

// EncodeVRFRequest serializes a randomness request payload.
func EncodeVRFRequest(p VRFRequestPayload) ([]byte, error) {
	return rlp.EncodeToBytes(&p)
}

// DecodeVRFRequest deserializes a randomness request payload.
func DecodeVRFRequest(data []byte) (VRFRequestPayload, error) {
	var p VRFRequestPayload
	if err := rlp.DecodeBytes(data, &p); err != nil {
		return VRFRequestPayload{}, fmt.Errorf("malformed vrf payload: %w", err)
	}
	return p, nil
}

// VRFResult is the RLP-encoded fulfillment body for the VRF contract: the
// random words plus the proof kept for later VerifyProof calls.
type VRFResult struct {
	RandomWords [][]byte
	Proof       []byte
}

// EncodeVRFResult serializes a randomness fulfillment.
func EncodeVRFResult(r VRFResult) ([]byte, error) {
	return rlp.EncodeToBytes(&r)
}

// DecodeVRFResult deserializes a randomness fulfillment.
func DecodeVRFResult(data []byte) (VRFResult, error) {
	var r VRFResult
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return VRFResult{}, fmt.Errorf("malformed vrf result: %w", err)
	}
	return r, nil
}
