package chain

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// NumWords bounds for a single randomness request.
const (
	MinNumWords = 1
	MaxNumWords = 10
)

// VRFStoredRequest is the ephemeral on-chain record of a pending randomness
// request. Seed is already enhanced.
type VRFStoredRequest struct {
	Seed         []byte
	NumWords     uint8
	UserContract common.Address
}

// VRFContract stores pending randomness requests, fulfilled random words and
// their proofs. Proofs are kept permanently so consumers can call VerifyProof
// long after fulfillment.
//
// OnFulfill does not verify the proof before accepting the result;
// verification is opt-in for downstream readers, mirroring the trust placed
// in the gateway and TEE attestation chain.
type VRFContract struct {
	mu        sync.RWMutex
	gateway   common.Address
	publicKey []byte // 33-byte compressed secp256k1 point
	stored    map[uint64]VRFStoredRequest
	words     map[uint64][][]byte
	proofs    map[uint64][]byte
}

// NewVRFContract deploys a VRF contract with the given gateway as the
// registered single writer and the TEE's secp256k1 public key for proof
// verification.
func NewVRFContract(gateway common.Address, publicKey []byte) *VRFContract {
	return &VRFContract{
		gateway:   gateway,
		publicKey: publicKey,
		stored:    make(map[uint64]VRFStoredRequest),
		words:     make(map[uint64][][]byte),
		proofs:    make(map[uint64][]byte),
	}
}

// SetGateway updates the registered gateway. Only the current gateway may
// rotate it.
func (c *VRFContract) SetGateway(rt Runtime, gateway common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt.CallingScriptHash() != c.gateway {
		return fmt.Errorf("%w: unauthorized", ErrAborted)
	}
	c.gateway = gateway
	return nil
}

// SetPublicKey updates the registered verification key. Gateway-only.
func (c *VRFContract) SetPublicKey(rt Runtime, publicKey []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt.CallingScriptHash() != c.gateway {
		return fmt.Errorf("%w: unauthorized", ErrAborted)
	}
	c.publicKey = publicKey
	return nil
}

// EnhanceSeed binds a caller-supplied seed to a block hash and request ID:
// seed || blockHash || requestID. Identical caller seeds therefore produce
// distinct enhanced seeds across requests and blocks, preventing replay.
func EnhanceSeed(seed []byte, blockHash common.Hash, requestID uint64) []byte {
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], requestID)
	out := make([]byte, 0, len(seed)+common.HashLength+8)
	out = append(out, seed...)
	out = append(out, blockHash.Bytes()...)
	out = append(out, idBytes[:]...)
	return out
}

// OnRequest validates the word count, enhances the seed with the current
// block hash and the request ID, stores the pending request and emits the
// request event.
func (c *VRFContract) OnRequest(rt Runtime, requestID uint64, userContract common.Address, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt.CallingScriptHash() != c.gateway {
		return fmt.Errorf("%w: unauthorized", ErrAborted)
	}
	if _, exists := c.stored[requestID]; exists {
		return fmt.Errorf("%w: request %d already pending", ErrAborted, requestID)
	}
	p, err := DecodeVRFRequest(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	if p.NumWords < MinNumWords || p.NumWords > MaxNumWords {
		return fmt.Errorf("%w: numWords must be between %d and %d", ErrAborted, MinNumWords, MaxNumWords)
	}
	enhanced := EnhanceSeed(p.Seed, rt.BlockHash(), requestID)
	c.stored[requestID] = VRFStoredRequest{
		Seed:         enhanced,
		NumWords:     p.NumWords,
		UserContract: userContract,
	}
	rt.Notify(VRFRequestEvent{
		RequestID:    requestID,
		UserContract: userContract,
		Seed:         enhanced,
		NumWords:     p.NumWords,
	})
	return nil
}

// OnFulfill splits the result into random words and proof, stores both
// permanently, deletes the pending request and emits the fulfillment event.
// The stored request's presence is the only guard against duplicate
// fulfillment within one chain state.
func (c *VRFContract) OnFulfill(rt Runtime, requestID uint64, result []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt.CallingScriptHash() != c.gateway {
		return fmt.Errorf("%w: unauthorized", ErrAborted)
	}
	if _, exists := c.stored[requestID]; !exists {
		return fmt.Errorf("%w: no pending request %d", ErrAborted, requestID)
	}
	r, err := DecodeVRFResult(result)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	if len(r.RandomWords) == 0 {
		return fmt.Errorf("%w: empty random words", ErrAborted)
	}
	c.words[requestID] = r.RandomWords
	c.proofs[requestID] = r.Proof
	delete(c.stored, requestID)
	rt.Notify(VRFFulfilledEvent{RequestID: requestID, RandomWords: r.RandomWords, Proof: r.Proof})
	return nil
}

// GetRandomness returns the stored random words, or nil. Read-only.
func (c *VRFContract) GetRandomness(requestID uint64) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.words[requestID]
}

// GetProof returns the stored proof, or nil. Read-only.
func (c *VRFContract) GetProof(requestID uint64) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.proofs[requestID]
}

// StoredRequest returns the pending request record, if present. Read-only.
func (c *VRFContract) StoredRequest(requestID uint64) (VRFStoredRequest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	req, ok := c.stored[requestID]
	return req, ok
}

// VerifyProof recomputes message = seed || randomWords and checks the proof
// as a secp256k1 ECDSA signature over its keccak256 digest against the
// registered public key. It returns false rather than aborting: unverified
// randomness is the caller's problem to interpret, not an execution error.
func (c *VRFContract) VerifyProof(seed []byte, randomWords [][]byte, proof []byte) bool {
	c.mu.RLock()
	publicKey := c.publicKey
	c.mu.RUnlock()
	if len(publicKey) == 0 || len(proof) < 64 {
		return false
	}
	digest := ProofDigest(seed, randomWords)
	return crypto.VerifySignature(publicKey, digest, proof[:64])
}

// ProofDigest hashes seed || randomWords into the 32-byte message the proof
// signature covers. Shared with the TEE-side prover.
func ProofDigest(seed []byte, randomWords [][]byte) []byte {
	msg := make([]byte, 0, len(seed)+32*len(randomWords))
	msg = append(msg, seed...)
	for _, w := range randomWords {
		msg = append(msg, w...)
	}
	return crypto.Keccak256(msg)
}
