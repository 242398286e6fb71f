package storage

import (
	"context"
	"sort"
	"sync"

	"tanda/internal/core"
)

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store for tests and local development. A
// single mutex guards all maps; copies go in and out so callers never share
// backing memory with the store.
type MemoryStore struct {
	mu sync.Mutex

	circles       map[string]core.Circle
	payoutOrders  map[string][]string
	members       map[string]core.Member
	cycles        map[string]core.Cycle
	contributions map[string]core.Contribution
	payouts       map[string]core.Payout
	advances      map[string]core.Advance
	scores        map[string]int
	adjustments   map[string][]core.Adjustment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		circles:       make(map[string]core.Circle),
		payoutOrders:  make(map[string][]string),
		members:       make(map[string]core.Member),
		cycles:        make(map[string]core.Cycle),
		contributions: make(map[string]core.Contribution),
		payouts:       make(map[string]core.Payout),
		advances:      make(map[string]core.Advance),
		scores:        make(map[string]int),
		adjustments:   make(map[string][]core.Adjustment),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateCircle(_ context.Context, circle *core.Circle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.circles[circle.ID] = *circle
	return nil
}

func (s *MemoryStore) GetCircle(_ context.Context, circleID string) (*core.Circle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	circle, ok := s.circles[circleID]
	if !ok {
		return nil, core.ErrUnknownCircle
	}
	circle.PayoutOrder = append([]string(nil), s.payoutOrders[circleID]...)
	return &circle, nil
}

func (s *MemoryStore) ListCirclesByStatus(_ context.Context, status core.CircleStatus) ([]core.Circle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var circles []core.Circle
	for id, circle := range s.circles {
		if circle.Status == status {
			circle.PayoutOrder = append([]string(nil), s.payoutOrders[id]...)
			circles = append(circles, circle)
		}
	}
	sort.Slice(circles, func(i, j int) bool { return circles[i].CreatedAt.Before(circles[j].CreatedAt) })
	return circles, nil
}

func (s *MemoryStore) UpdateCircle(_ context.Context, circle *core.Circle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.circles[circle.ID]; !ok {
		return core.ErrUnknownCircle
	}
	s.circles[circle.ID] = *circle
	return nil
}

func (s *MemoryStore) SetPayoutOrder(_ context.Context, circleID string, order []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payoutOrders[circleID] = append([]string(nil), order...)
	return nil
}

func (s *MemoryStore) CreateMember(_ context.Context, member *core.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[member.ID] = *member
	return nil
}

func (s *MemoryStore) GetMember(_ context.Context, memberID string) (*core.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.members[memberID]
	if !ok {
		return nil, core.ErrUnknownMember
	}
	return &member, nil
}

func (s *MemoryStore) GetMemberByUser(_ context.Context, circleID, userID string) (*core.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, member := range s.members {
		if member.CircleID == circleID && member.UserID == userID {
			return &member, nil
		}
	}
	return nil, core.ErrUnknownMember
}

func (s *MemoryStore) ListMembers(_ context.Context, circleID string) ([]core.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var members []core.Member
	for _, member := range s.members {
		if member.CircleID == circleID {
			members = append(members, member)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].ID < members[j].ID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members, nil
}

func (s *MemoryStore) UpdateMember(_ context.Context, member *core.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[member.ID]; !ok {
		return core.ErrUnknownMember
	}
	s.members[member.ID] = *member
	return nil
}

func (s *MemoryStore) CreateCycle(_ context.Context, cycle *core.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles[cycle.ID] = *cycle
	return nil
}

func (s *MemoryStore) GetCycle(_ context.Context, cycleID string) (*core.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cycle, ok := s.cycles[cycleID]
	if !ok {
		return nil, core.ErrUnknownCycle
	}
	return &cycle, nil
}

func (s *MemoryStore) UnsettledCycle(_ context.Context, circleID string) (*core.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *core.Cycle
	for _, cycle := range s.cycles {
		if cycle.CircleID == circleID && cycle.Status != core.CycleSettled {
			if found == nil || cycle.Sequence > found.Sequence {
				c := cycle
				found = &c
			}
		}
	}
	if found == nil {
		return nil, core.ErrUnknownCycle
	}
	return found, nil
}

func (s *MemoryStore) ListUnsettledCycles(_ context.Context) ([]core.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cycles []core.Cycle
	for _, cycle := range s.cycles {
		if cycle.Status != core.CycleSettled {
			cycles = append(cycles, cycle)
		}
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i].DueAt.Before(cycles[j].DueAt) })
	return cycles, nil
}

func (s *MemoryStore) UpdateCycle(_ context.Context, cycle *core.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cycles[cycle.ID]; !ok {
		return core.ErrUnknownCycle
	}
	s.cycles[cycle.ID] = *cycle
	return nil
}

func (s *MemoryStore) CreateContribution(_ context.Context, contribution *core.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contributions[contribution.ID] = *contribution
	return nil
}

func (s *MemoryStore) GetContribution(_ context.Context, cycleID, memberID string) (*core.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, contribution := range s.contributions {
		if contribution.CycleID == cycleID && contribution.MemberID == memberID {
			return &contribution, nil
		}
	}
	return nil, core.ErrUnknownContribution
}

func (s *MemoryStore) ListContributions(_ context.Context, cycleID string) ([]core.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var contributions []core.Contribution
	for _, contribution := range s.contributions {
		if contribution.CycleID == cycleID {
			contributions = append(contributions, contribution)
		}
	}
	sort.Slice(contributions, func(i, j int) bool { return contributions[i].MemberID < contributions[j].MemberID })
	return contributions, nil
}

func (s *MemoryStore) UpdateContribution(_ context.Context, contribution *core.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contributions[contribution.ID]; !ok {
		return core.ErrUnknownContribution
	}
	s.contributions[contribution.ID] = *contribution
	return nil
}

func (s *MemoryStore) CreatePayout(_ context.Context, payout *core.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payouts[payout.ID] = *payout
	return nil
}

func (s *MemoryStore) GetPayoutByCycle(_ context.Context, cycleID string) (*core.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, payout := range s.payouts {
		if payout.CycleID == cycleID {
			return &payout, nil
		}
	}
	return nil, core.ErrUnknownPayout
}

func (s *MemoryStore) UpdatePayout(_ context.Context, payout *core.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payouts[payout.ID]; !ok {
		return core.ErrUnknownPayout
	}
	s.payouts[payout.ID] = *payout
	return nil
}

func (s *MemoryStore) CreateAdvance(_ context.Context, advance *core.Advance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advances[advance.ID] = *advance
	return nil
}

func (s *MemoryStore) GetAdvance(_ context.Context, advanceID string) (*core.Advance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	advance, ok := s.advances[advanceID]
	if !ok {
		return nil, core.ErrUnknownAdvance
	}
	return &advance, nil
}

func (s *MemoryStore) ListAdvancesByUser(_ context.Context, userID string) ([]core.Advance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var advances []core.Advance
	for _, advance := range s.advances {
		if advance.UserID == userID {
			advances = append(advances, advance)
		}
	}
	sort.Slice(advances, func(i, j int) bool { return advances[i].DisbursedAt.Before(advances[j].DisbursedAt) })
	return advances, nil
}

func (s *MemoryStore) ListAdvancesByStatus(_ context.Context, status core.AdvanceStatus) ([]core.Advance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var advances []core.Advance
	for _, advance := range s.advances {
		if advance.Status == status {
			advances = append(advances, advance)
		}
	}
	sort.Slice(advances, func(i, j int) bool { return advances[i].DisbursedAt.Before(advances[j].DisbursedAt) })
	return advances, nil
}

func (s *MemoryStore) UpdateAdvance(_ context.Context, advance *core.Advance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.advances[advance.ID]; !ok {
		return core.ErrUnknownAdvance
	}
	s.advances[advance.ID] = *advance
	return nil
}

func (s *MemoryStore) CreateTrustScore(_ context.Context, userID string, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[userID] = score
	return nil
}

func (s *MemoryStore) GetTrustScore(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	score, ok := s.scores[userID]
	if !ok {
		return 0, core.ErrUnknownMember
	}
	return score, nil
}

func (s *MemoryStore) AppendAdjustment(_ context.Context, adj core.Adjustment, newScore int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scores[adj.UserID]; !ok {
		return core.ErrUnknownMember
	}
	s.adjustments[adj.UserID] = append(s.adjustments[adj.UserID], adj)
	s.scores[adj.UserID] = newScore
	return nil
}

func (s *MemoryStore) ListAdjustments(_ context.Context, userID string) ([]core.Adjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Adjustment(nil), s.adjustments[userID]...), nil
}

// SeedTrustScore sets a user's stored score directly, standing in for
// ledger history that happened before a test began. The adjustment log
// stays empty so later adjustments record honest deltas.
func (s *MemoryStore) SeedTrustScore(userID string, score int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[userID] = score
	delete(s.adjustments, userID)
}
