package rails

import (
	"context"
	"sync"

	"tanda/internal/core"
)

// LoopbackRail accepts every disbursement. It stands in for the real rail
// in local development and tests.
type LoopbackRail struct {
	mu        sync.Mutex
	disbursed []Disbursement
}

// Disbursement records one accepted payout for inspection in tests.
type Disbursement struct {
	Destination string
	Amount      core.Money
	Speed       Speed
}

func NewLoopbackRail() *LoopbackRail {
	return &LoopbackRail{}
}

func (r *LoopbackRail) Disburse(_ context.Context, destination string, amount core.Money, speed Speed) (DeliveryStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disbursed = append(r.disbursed, Disbursement{Destination: destination, Amount: amount, Speed: speed})
	return Delivered, nil
}

// Disbursed returns a copy of everything delivered so far.
func (r *LoopbackRail) Disbursed() []Disbursement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Disbursement(nil), r.disbursed...)
}

// MemoryBackstop is an in-process backstop fund with a fixed opening
// balance. Draws succeed while the balance lasts.
type MemoryBackstop struct {
	mu      sync.Mutex
	balance core.Money
}

func NewMemoryBackstop(balance core.Money) *MemoryBackstop {
	return &MemoryBackstop{balance: balance}
}

func (b *MemoryBackstop) CoverShortfall(_ context.Context, _ string, amount core.Money) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balance.Cents < amount.Cents {
		return false, nil
	}
	b.balance = b.balance.Sub(amount)
	return true, nil
}

// Balance returns the remaining fund balance.
func (b *MemoryBackstop) Balance() core.Money {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance
}

// LoopbackGateway approves every debit.
type LoopbackGateway struct{}

func (LoopbackGateway) Debit(context.Context, string, core.Money) error { return nil }
