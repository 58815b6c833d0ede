package watcher

import (
	"bytes"
	"fmt"

	tdx_abi "github.com/google/go-tdx-guest/abi"
	tdx_client "github.com/google/go-tdx-guest/client"
	tdx_pb "github.com/google/go-tdx-guest/proto/tdx"
	"github.com/google/go-tdx-guest/verify"
)

// AttestationProvider produces a quote binding the watcher's signing key to
// its TEE measurement. The key's public material goes into reportData so the
// key registry can tie a registered key to an attested instance.
type AttestationProvider interface {
	Attest(reportData [64]byte) ([]byte, error)
}

// DCAPAttestationProvider obtains a raw TDX quote from the local guest
// device, preferring the configfs interface when available.
type DCAPAttestationProvider struct{}

func (DCAPAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	qp := &tdx_client.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		return qp.GetRawQuote(reportData)
	}

	qd, err := tdx_client.OpenDevice()
	if err != nil {
		return nil, err
	}
	defer qd.Close()

	return tdx_client.GetRawQuote(qd, reportData)
}

// StubAttestationProvider stands in for real hardware in tests and local
// development deployments.
type StubAttestationProvider struct{}

func (StubAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	return []byte(fmt.Sprintf("stub attestation over %x", reportData)), nil
}

// VerifyDCAPAttestation checks a raw TDX quote against its collateral and
// confirms it covers the expected report data.
func VerifyDCAPAttestation(reportData [64]byte, quote []byte) error {
	protoQuote, err := tdx_abi.QuoteToProto(quote)
	if err != nil {
		return fmt.Errorf("could not parse quote: %w", err)
	}
	v4Quote, ok := protoQuote.(*tdx_pb.QuoteV4)
	if !ok {
		return fmt.Errorf("unsupported quote type: %T", protoQuote)
	}
	if err := verify.TdxQuote(protoQuote, verify.DefaultOptions()); err != nil {
		return fmt.Errorf("quote verification failed: %w", err)
	}
	if !bytes.Equal(v4Quote.TdQuoteBody.ReportData, reportData[:]) {
		return fmt.Errorf("quote covers report data %x, expected %x", v4Quote.TdQuoteBody.ReportData, reportData)
	}
	return nil
}
