package watcher

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"

	"github.com/ruteri/tee-oracle-bridge/chain"
)

// Prover derives random words from an enhanced seed and signs the proof with
// the TEE's secp256k1 key. The derivation is deterministic per (key, seed):
// the same pending request always fulfills to the same words, so a replayed
// fulfillment carries no new information.
type Prover struct {
	key *ecdsa.PrivateKey
}

// NewProver wraps the TEE signing key.
func NewProver(key *ecdsa.PrivateKey) *Prover {
	return &Prover{key: key}
}

// PublicKey returns the compressed public key consumers register with the VRF
// contract for proof verification.
func (p *Prover) PublicKey() []byte {
	return crypto.CompressPubkey(&p.key.PublicKey)
}

// Fulfill produces numWords random words from the enhanced seed plus the
// proof over seed || words.
func (p *Prover) Fulfill(seed []byte, numWords uint8) (chain.VRFResult, error) {
	if numWords == 0 {
		return chain.VRFResult{}, fmt.Errorf("numWords must be positive")
	}
	sig, err := crypto.Sign(crypto.Keccak256(seed), p.key)
	if err != nil {
		return chain.VRFResult{}, fmt.Errorf("seed signature failed: %w", err)
	}

	// The signature is the only secret input; HKDF expands it into the
	// requested number of 32-byte words.
	expand := hkdf.New(sha256.New, sig, seed, []byte("vrf random words"))
	words := make([][]byte, numWords)
	for i := range words {
		words[i] = make([]byte, 32)
		if _, err := io.ReadFull(expand, words[i]); err != nil {
			return chain.VRFResult{}, fmt.Errorf("word expansion failed: %w", err)
		}
	}

	proof, err := crypto.Sign(chain.ProofDigest(seed, words), p.key)
	if err != nil {
		return chain.VRFResult{}, fmt.Errorf("proof signature failed: %w", err)
	}
	return chain.VRFResult{RandomWords: words, Proof: proof}, nil
}
