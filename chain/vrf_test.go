package chain

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVRFDeployment(t *testing.T) (*Ledger, *Gateway, *VRFContract, *ecdsa.PrivateKey) {
	t.Helper()

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	ledger := NewLedger()
	gateway := NewGateway(gatewayAddr)
	vrf := NewVRFContract(gatewayAddr, crypto.CompressPubkey(&priv.PublicKey))
	gateway.RegisterVRF(vrf)
	gateway.AddRelayer(relayerAddr)
	return ledger, gateway, vrf, priv
}

func submitVRFRequest(t *testing.T, ledger *Ledger, gateway *Gateway, seed []byte, numWords uint8) uint64 {
	t.Helper()
	payload, err := EncodeVRFRequest(VRFRequestPayload{Seed: seed, NumWords: numWords})
	require.NoError(t, err)

	var id uint64
	err = ledger.Submit(userContract, func(rt Runtime) error {
		var reqErr error
		id, reqErr = gateway.Request(rt, ServiceVRF, userContract, payload)
		return reqErr
	})
	require.NoError(t, err)
	return id
}

func signResult(t *testing.T, priv *ecdsa.PrivateKey, seed []byte, words [][]byte) []byte {
	t.Helper()
	proof, err := crypto.Sign(ProofDigest(seed, words), priv)
	require.NoError(t, err)
	return proof
}

func TestVRFRequestFulfillLifecycle(t *testing.T) {
	ledger, gateway, vrf, priv := newVRFDeployment(t)

	id := submitVRFRequest(t, ledger, gateway, []byte("seed123"), 2)

	stored, ok := vrf.StoredRequest(id)
	require.True(t, ok)
	assert.NotEqual(t, []byte("seed123"), stored.Seed, "emitted seed must be enhanced")

	words := [][]byte{crypto.Keccak256([]byte("w0")), crypto.Keccak256([]byte("w1"))}
	proof := signResult(t, priv, stored.Seed, words)
	result, err := EncodeVRFResult(VRFResult{RandomWords: words, Proof: proof})
	require.NoError(t, err)

	err = ledger.Submit(relayerAddr, func(rt Runtime) error {
		return gateway.Fulfill(rt, id, result)
	})
	require.NoError(t, err)

	assert.Equal(t, words, vrf.GetRandomness(id))
	assert.Equal(t, proof, vrf.GetProof(id))
	_, ok = vrf.StoredRequest(id)
	assert.False(t, ok)
}

func TestVRFProofRoundTrip(t *testing.T) {
	_, _, vrf, priv := newVRFDeployment(t)

	seed := []byte("some enhanced seed")
	words := [][]byte{crypto.Keccak256([]byte("a")), crypto.Keccak256([]byte("b"))}
	proof := signResult(t, priv, seed, words)

	assert.True(t, vrf.VerifyProof(seed, words, proof))

	// A single corrupted byte in the random words must invalidate the proof.
	corrupted := [][]byte{append([]byte(nil), words[0]...), words[1]}
	corrupted[0][5] ^= 0x01
	assert.False(t, vrf.VerifyProof(seed, corrupted, proof))

	// So must a proof from a different key.
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	assert.False(t, vrf.VerifyProof(seed, words, signResult(t, otherKey, seed, words)))

	// Verification failure is a boolean, never a panic, even on garbage.
	assert.False(t, vrf.VerifyProof(seed, words, []byte("short")))
	assert.False(t, vrf.VerifyProof(nil, nil, nil))
}

func TestVRFSeedBinding(t *testing.T) {
	ledger, gateway, vrf, _ := newVRFDeployment(t)

	// Identical caller-supplied seeds on different requests and heights must
	// yield distinct enhanced seeds.
	idA := submitVRFRequest(t, ledger, gateway, []byte("same-seed"), 1)
	idB := submitVRFRequest(t, ledger, gateway, []byte("same-seed"), 1)

	storedA, ok := vrf.StoredRequest(idA)
	require.True(t, ok)
	storedB, ok := vrf.StoredRequest(idB)
	require.True(t, ok)
	assert.NotEqual(t, storedA.Seed, storedB.Seed)
}

func TestVRFNumWordsRange(t *testing.T) {
	ledger, gateway, _, _ := newVRFDeployment(t)

	for _, numWords := range []uint8{0, 11} {
		payload, err := EncodeVRFRequest(VRFRequestPayload{Seed: []byte("s"), NumWords: numWords})
		require.NoError(t, err)
		err = ledger.Submit(userContract, func(rt Runtime) error {
			_, reqErr := gateway.Request(rt, ServiceVRF, userContract, payload)
			return reqErr
		})
		require.ErrorIs(t, err, ErrAborted, "numWords=%d must be rejected", numWords)
	}
}

func TestVRFMalformedFulfillmentLeavesPending(t *testing.T) {
	ledger, gateway, vrf, _ := newVRFDeployment(t)

	id := submitVRFRequest(t, ledger, gateway, []byte("seed"), 1)

	err := ledger.Submit(relayerAddr, func(rt Runtime) error {
		return gateway.Fulfill(rt, id, []byte("not rlp"))
	})
	require.ErrorIs(t, err, ErrAborted)

	// The pending request survives so a corrected fulfillment can retry.
	_, ok := vrf.StoredRequest(id)
	assert.True(t, ok)

	words := [][]byte{crypto.Keccak256([]byte("w"))}
	result, err := EncodeVRFResult(VRFResult{RandomWords: words, Proof: []byte{0x01}})
	require.NoError(t, err)
	err = ledger.Submit(relayerAddr, func(rt Runtime) error {
		return gateway.Fulfill(rt, id, result)
	})
	require.NoError(t, err)
	assert.Equal(t, words, vrf.GetRandomness(id))
}
