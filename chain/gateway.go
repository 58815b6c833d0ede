package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ruteri/tee-oracle-bridge/interfaces"
)

// ServiceKind selects which service contract handles a request.
type ServiceKind string

const (
	ServiceOracle ServiceKind = "oracle"
	ServiceVRF    ServiceKind = "vrf"
)

// Gateway is the single authorized entry and exit point between user
// contracts and the service contracts. Inbound it assigns request IDs and
// forwards OnRequest; outbound it accepts fulfillments from authorized TEE
// relayers and forwards OnFulfill.
type Gateway struct {
	address common.Address

	mu       sync.RWMutex
	oracle   *OracleContract
	vrf      *VRFContract
	relayers map[common.Address]bool
	kinds    map[uint64]ServiceKind
	nextID   uint64
}

// NewGateway deploys a gateway at the given address.
func NewGateway(address common.Address) *Gateway {
	return &Gateway{
		address:  address,
		relayers: make(map[common.Address]bool),
		kinds:    make(map[uint64]ServiceKind),
	}
}

// Address returns the gateway's contract address.
func (g *Gateway) Address() common.Address { return g.address }

// RegisterOracle wires the oracle service contract.
func (g *Gateway) RegisterOracle(c *OracleContract) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.oracle = c
}

// RegisterVRF wires the VRF service contract.
func (g *Gateway) RegisterVRF(c *VRFContract) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.vrf = c
}

// AddRelayer authorizes a TEE relayer address to submit fulfillments.
func (g *Gateway) AddRelayer(addr common.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.relayers[addr] = true
}

// RemoveRelayer revokes a relayer authorization.
func (g *Gateway) RemoveRelayer(addr common.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.relayers, addr)
}

// Request assigns a fresh request ID and forwards the payload to the service
// contract's OnRequest. The nested call runs with the gateway's address as
// the calling script hash, satisfying the service contract's single-writer
// check. Callable by any contract; the service contracts themselves are not.
func (g *Gateway) Request(rt Runtime, kind ServiceKind, userContract common.Address, payload []byte) (uint64, error) {
	g.mu.Lock()
	svc, err := g.serviceLocked(kind)
	if err != nil {
		g.mu.Unlock()
		return 0, err
	}
	g.nextID++
	id := g.nextID
	g.kinds[id] = kind
	g.mu.Unlock()

	if err := svc.OnRequest(rt.WithCaller(g.address), id, userContract, payload); err != nil {
		g.mu.Lock()
		delete(g.kinds, id)
		g.mu.Unlock()
		return 0, err
	}
	return id, nil
}

// Fulfill forwards a TEE result to the service contract's OnFulfill. Only
// authorized relayers may call it.
func (g *Gateway) Fulfill(rt Runtime, requestID uint64, result []byte) error {
	g.mu.RLock()
	authorized := g.relayers[rt.CallingScriptHash()]
	kind, known := g.kinds[requestID]
	g.mu.RUnlock()
	if !authorized {
		return fmt.Errorf("%w: unauthorized relayer %s", ErrAborted, rt.CallingScriptHash())
	}
	if !known {
		return fmt.Errorf("%w: unknown request %d", ErrAborted, requestID)
	}

	g.mu.RLock()
	svc, err := g.serviceLocked(kind)
	g.mu.RUnlock()
	if err != nil {
		return err
	}
	return svc.OnFulfill(rt.WithCaller(g.address), requestID, result)
}

// serviceContract is the shared surface of the two service-contract variants.
type serviceContract interface {
	OnRequest(rt Runtime, requestID uint64, userContract common.Address, payload []byte) error
	OnFulfill(rt Runtime, requestID uint64, result []byte) error
}

func (g *Gateway) serviceLocked(kind ServiceKind) (serviceContract, error) {
	switch kind {
	case ServiceOracle:
		if g.oracle == nil {
			return nil, fmt.Errorf("%w: oracle service not registered", ErrAborted)
		}
		return g.oracle, nil
	case ServiceVRF:
		if g.vrf == nil {
			return nil, fmt.Errorf("%w: vrf service not registered", ErrAborted)
		}
		return g.vrf, nil
	default:
		return nil, fmt.Errorf("%w: unknown service kind %q", ErrAborted, kind)
	}
}

// Reader exposes the gateway's read-only view of on-chain request state for
// the off-chain reconciler.
type Reader struct {
	gateway *Gateway
}

// NewReader creates a chain reader over the gateway's registered services.
func NewReader(g *Gateway) *Reader {
	return &Reader{gateway: g}
}

// HasStoredRequest reports whether a pending stored request exists for id.
func (r *Reader) HasStoredRequest(_ context.Context, id interfaces.RequestID) (bool, error) {
	g := r.gateway
	g.mu.RLock()
	kind, known := g.kinds[uint64(id)]
	g.mu.RUnlock()
	if !known {
		return false, nil
	}
	switch kind {
	case ServiceOracle:
		_, ok := g.oracle.StoredRequest(uint64(id))
		return ok, nil
	case ServiceVRF:
		_, ok := g.vrf.StoredRequest(uint64(id))
		return ok, nil
	}
	return false, nil
}

// HasResult reports whether a fulfilled result exists for id.
func (r *Reader) HasResult(_ context.Context, id interfaces.RequestID) (bool, error) {
	g := r.gateway
	g.mu.RLock()
	kind, known := g.kinds[uint64(id)]
	g.mu.RUnlock()
	if !known {
		return false, nil
	}
	switch kind {
	case ServiceOracle:
		return g.oracle.GetResult(uint64(id)) != nil, nil
	case ServiceVRF:
		return g.vrf.GetRandomness(uint64(id)) != nil, nil
	}
	return false, nil
}
