package custody

import (
	"context"
	"fmt"
	"sync"

	"github.com/Jovells/dchain/pkg/shipment"
)

// Memory is an in-process Custodian with a mint faucet. Thread-safe.
type Memory struct {
	mu       sync.Mutex
	balances map[shipment.Address]uint64
	holds    map[uint64]Hold
	failNext error
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[shipment.Address]uint64),
		holds:    make(map[uint64]Hold),
	}
}

// Mint credits amount to addr out of thin air.
func (m *Memory) Mint(_ context.Context, addr shipment.Address, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := shipment.NewAddress(string(addr))
	m.balances[key] += amount
	return nil
}

// Balance returns addr's spendable balance.
func (m *Memory) Balance(_ context.Context, addr shipment.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[shipment.NewAddress(string(addr))], nil
}

// Held returns the hold registered under holdID.
func (m *Memory) Held(_ context.Context, holdID uint64) (Hold, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[holdID]
	return h, ok
}

// Supply returns the sum of all balances and holds.
func (m *Memory) Supply() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, b := range m.balances {
		total += b
	}
	for _, h := range m.holds {
		total += h.Amount
	}
	return total
}

// FailNext makes the next custody operation fail with err without moving funds.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *Memory) injected() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *Memory) Transfer(_ context.Context, from, to shipment.Address, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	from, to = shipment.NewAddress(string(from)), shipment.NewAddress(string(to))
	if m.balances[from] < amount {
		return fmt.Errorf("transfer %d from %s: %w", amount, from, ErrInsufficientFunds)
	}
	m.balances[from] -= amount
	m.balances[to] += amount
	return nil
}

func (m *Memory) DepositToEscrow(_ context.Context, from shipment.Address, holdID uint64, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	if _, ok := m.holds[holdID]; ok {
		return fmt.Errorf("deposit hold %d: %w", holdID, ErrHoldExists)
	}
	from = shipment.NewAddress(string(from))
	if m.balances[from] < amount {
		return fmt.Errorf("deposit %d from %s: %w", amount, from, ErrInsufficientFunds)
	}
	m.balances[from] -= amount
	m.holds[holdID] = Hold{From: from, Amount: amount}
	return nil
}

func (m *Memory) ReleaseEscrow(_ context.Context, holdID uint64, to shipment.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	h, ok := m.holds[holdID]
	if !ok {
		return fmt.Errorf("release hold %d: %w", holdID, ErrNotHeld)
	}
	delete(m.holds, holdID)
	m.balances[shipment.NewAddress(string(to))] += h.Amount
	return nil
}
