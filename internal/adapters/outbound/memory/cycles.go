package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bitredict/relayer/internal/domain/entity"
)

func cloneCycle(c *entity.Cycle) *entity.Cycle {
	cp := *c
	cp.Matches = append([]entity.CycleMatch(nil), c.Matches...)
	cp.TxHash = append([]byte(nil), c.TxHash...)
	cp.ResolutionTx = append([]byte(nil), c.ResolutionTx...)
	cp.PreparedResults = append([]byte(nil), c.PreparedResults...)
	if c.ResolvedAt != nil {
		at := *c.ResolvedAt
		cp.ResolvedAt = &at
	}
	return &cp
}

// CycleRepository is the in-memory Oddyssey cycle store.
type CycleRepository struct {
	mu     sync.RWMutex
	cycles map[uint64]*entity.Cycle
	daily  map[string][]entity.CycleMatch

	// slips lets ListAwaitingEvaluation see unevaluated slips; wire the
	// same SlipRepository the service under test uses, or leave nil.
	slips *SlipRepository
}

// NewCycleRepository creates an in-memory cycle repository joined to the
// slip store it filters against (nil disables ListAwaitingEvaluation).
func NewCycleRepository(slips *SlipRepository) *CycleRepository {
	return &CycleRepository{
		cycles: make(map[uint64]*entity.Cycle),
		daily:  make(map[string][]entity.CycleMatch),
		slips:  slips,
	}
}

func (r *CycleRepository) SaveDailyMatches(ctx context.Context, gameDate string, matches []entity.CycleMatch) error {
	if len(matches) != entity.CycleMatchCount {
		return fmt.Errorf("daily selection has %d matches, want %d", len(matches), entity.CycleMatchCount)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.daily[gameDate] = append([]entity.CycleMatch(nil), matches...)
	return nil
}

func (r *CycleRepository) GetDailyMatches(ctx context.Context, gameDate string) ([]entity.CycleMatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matches, ok := r.daily[gameDate]
	if !ok {
		return nil, nil
	}
	return append([]entity.CycleMatch(nil), matches...), nil
}

func (r *CycleRepository) InsertCycle(ctx context.Context, c *entity.Cycle) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.cycles[c.CycleID]; exists {
		return fmt.Errorf("cycle %d already exists", c.CycleID)
	}
	r.cycles[c.CycleID] = cloneCycle(c)
	return nil
}

func (r *CycleRepository) GetCycle(ctx context.Context, cycleID uint64) (*entity.Cycle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cycles[cycleID]
	if !ok {
		return nil, nil
	}
	return cloneCycle(c), nil
}

func (r *CycleRepository) GetActiveCycle(ctx context.Context) (*entity.Cycle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var active *entity.Cycle
	for _, c := range r.cycles {
		if c.State != entity.CycleActive {
			continue
		}
		if active == nil || c.CycleID > active.CycleID {
			active = c
		}
	}
	if active == nil {
		return nil, nil
	}
	return cloneCycle(active), nil
}

func (r *CycleRepository) HasCycleForDate(ctx context.Context, gameDate string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.cycles {
		if c.StartTime.UTC().Format("2006-01-02") == gameDate {
			return true, nil
		}
	}
	return false, nil
}

func (r *CycleRepository) TransitionState(ctx context.Context, cycleID uint64, from, to entity.CycleState) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("cycle state %s cannot transition to %s", from, to)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[cycleID]
	if !ok {
		return fmt.Errorf("cycle %d not found", cycleID)
	}
	if c.State != from {
		return fmt.Errorf("cycle %d is not in state %s", cycleID, from)
	}
	c.State = to
	return nil
}

func (r *CycleRepository) SetPreparedResults(ctx context.Context, cycleID uint64, prepared json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[cycleID]
	if !ok {
		return fmt.Errorf("cycle %d not found", cycleID)
	}
	c.PreparedResults = append([]byte(nil), prepared...)
	c.ReadyForResolution = true
	return nil
}

func (r *CycleRepository) MarkResolved(ctx context.Context, cycleID uint64, resolutionTx []byte, resolvedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[cycleID]
	if !ok {
		return fmt.Errorf("cycle %d not found", cycleID)
	}
	c.ResolutionTx = append([]byte(nil), resolutionTx...)
	c.ResolvedAt = &resolvedAt
	return nil
}

func (r *CycleRepository) ListEndedUnresolved(ctx context.Context) ([]*entity.Cycle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	var out []*entity.Cycle
	for _, c := range r.cycles {
		if c.State == entity.CycleEnded || (c.State == entity.CycleActive && !c.EndTime.After(now)) {
			out = append(out, cloneCycle(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CycleID < out[j].CycleID })
	return out, nil
}

func (r *CycleRepository) ListAwaitingEvaluation(ctx context.Context) ([]*entity.Cycle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Cycle
	for _, c := range r.cycles {
		if c.State != entity.CycleResolved || r.slips == nil {
			continue
		}
		if r.slips.hasUnevaluated(c.CycleID) {
			out = append(out, cloneCycle(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CycleID < out[j].CycleID })
	return out, nil
}

func cloneSlip(s *entity.Slip) *entity.Slip {
	cp := *s
	cp.Predictions = append([]entity.Prediction(nil), s.Predictions...)
	if s.FinalScore != nil {
		cp.FinalScore = new(big.Int).Set(s.FinalScore)
	}
	return &cp
}

// SlipRepository is the in-memory slip store.
type SlipRepository struct {
	mu    sync.RWMutex
	slips map[uint64]*entity.Slip
}

// NewSlipRepository creates an in-memory slip repository.
func NewSlipRepository() *SlipRepository {
	return &SlipRepository{slips: make(map[uint64]*entity.Slip)}
}

func (r *SlipRepository) InsertSlip(ctx context.Context, tx pgx.Tx, s *entity.Slip) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.slips[s.SlipID]; exists {
		return false, nil
	}
	r.slips[s.SlipID] = cloneSlip(s)
	return true, nil
}

func (r *SlipRepository) ListByCycle(ctx context.Context, cycleID uint64) ([]*entity.Slip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Slip
	for _, s := range r.slips {
		if s.CycleID == cycleID {
			out = append(out, cloneSlip(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].SlipID < out[j].SlipID
		}
		return out[i].PlacedAt.Before(out[j].PlacedAt)
	})
	return out, nil
}

func (r *SlipRepository) SaveEvaluations(ctx context.Context, cycleID uint64, slips []*entity.Slip) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range slips {
		stored, ok := r.slips[s.SlipID]
		if !ok || stored.CycleID != cycleID {
			return fmt.Errorf("slip %d not found in cycle %d", s.SlipID, cycleID)
		}
		stored.IsEvaluated = s.IsEvaluated
		stored.CorrectCount = s.CorrectCount
		if s.FinalScore != nil {
			stored.FinalScore = new(big.Int).Set(s.FinalScore)
		}
		stored.Rank = s.Rank
	}
	return nil
}

func (r *SlipRepository) MarkPrizeClaimed(ctx context.Context, tx pgx.Tx, slipID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slips[slipID]
	if !ok {
		return fmt.Errorf("slip %d not found", slipID)
	}
	s.PrizeClaimed = true
	return nil
}

func (r *SlipRepository) hasUnevaluated(cycleID uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.slips {
		if s.CycleID == cycleID && !s.IsEvaluated {
			return true
		}
	}
	return false
}
