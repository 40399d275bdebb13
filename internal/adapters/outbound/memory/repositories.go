// Package memory provides in-memory implementations of the outbound ports
// for tests and local development. All adapters are thread-safe; data is
// lost on process restart.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jackc/pgx/v5"

	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/ports/outbound"
)

// Compile-time checks that the adapters implement their ports.
var (
	_ outbound.TxManager            = (*TxManager)(nil)
	_ outbound.PoolRepository       = (*PoolRepository)(nil)
	_ outbound.BetRepository        = (*BetRepository)(nil)
	_ outbound.FixtureRepository    = (*FixtureRepository)(nil)
	_ outbound.MarketRepository     = (*MarketRepository)(nil)
	_ outbound.SubmissionRepository = (*SubmissionRepository)(nil)
	_ outbound.CursorRepository     = (*CursorRepository)(nil)
	_ outbound.EventRepository      = (*EventRepository)(nil)
	_ outbound.AnomalyRepository    = (*AnomalyRepository)(nil)
	_ outbound.CycleRepository      = (*CycleRepository)(nil)
	_ outbound.SlipRepository       = (*SlipRepository)(nil)
)

// TxManager runs fn without a real transaction: the in-memory repositories
// ignore their pgx.Tx parameter, so fn receives nil.
type TxManager struct{}

// NewTxManager creates an in-memory transaction manager.
func NewTxManager() *TxManager { return &TxManager{} }

func (m *TxManager) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func clonePool(p *entity.Pool) *entity.Pool {
	cp := *p
	if p.CreatorStake != nil {
		cp.CreatorStake = new(big.Int).Set(p.CreatorStake)
	}
	if p.TotalCreatorSideStake != nil {
		cp.TotalCreatorSideStake = new(big.Int).Set(p.TotalCreatorSideStake)
	}
	if p.TotalBettorStake != nil {
		cp.TotalBettorStake = new(big.Int).Set(p.TotalBettorStake)
	}
	if p.MaxBettorStake != nil {
		cp.MaxBettorStake = new(big.Int).Set(p.MaxBettorStake)
	}
	return &cp
}

// PoolRepository is the in-memory pool projection.
type PoolRepository struct {
	mu    sync.RWMutex
	pools map[uint64]*entity.Pool
}

// NewPoolRepository creates an in-memory pool repository.
func NewPoolRepository() *PoolRepository {
	return &PoolRepository{pools: make(map[uint64]*entity.Pool)}
}

func (r *PoolRepository) UpsertPool(ctx context.Context, tx pgx.Tx, p *entity.Pool) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[p.PoolID] = clonePool(p)
	return nil
}

func (r *PoolRepository) GetPool(ctx context.Context, poolID uint64) (*entity.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[poolID]
	if !ok {
		return nil, nil
	}
	return clonePool(p), nil
}

func (r *PoolRepository) AddBettorStake(ctx context.Context, tx pgx.Tx, poolID uint64, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[poolID]
	if !ok {
		return fmt.Errorf("pool %d not found", poolID)
	}
	if p.TotalBettorStake == nil {
		p.TotalBettorStake = new(big.Int)
	}
	p.TotalBettorStake.Add(p.TotalBettorStake, amount)
	return nil
}

func (r *PoolRepository) AdjustCreatorSideStake(ctx context.Context, tx pgx.Tx, poolID uint64, delta *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[poolID]
	if !ok {
		return fmt.Errorf("pool %d not found", poolID)
	}
	if p.TotalCreatorSideStake == nil {
		p.TotalCreatorSideStake = new(big.Int)
	}
	p.TotalCreatorSideStake.Add(p.TotalCreatorSideStake, delta)
	return nil
}

func (r *PoolRepository) MarkSettled(ctx context.Context, tx pgx.Tx, poolID uint64, result common.Hash, creatorSideWon bool, settlementTx []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[poolID]
	if !ok {
		return fmt.Errorf("pool %d not found", poolID)
	}
	p.Flags.Settled = true
	p.Flags.CreatorSideWon = creatorSideWon
	p.Result = result
	if settlementTx != nil {
		p.SettlementTx = settlementTx
	}
	return nil
}

func (r *PoolRepository) MarkRefunded(ctx context.Context, tx pgx.Tx, poolID uint64, settlementTx []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[poolID]
	if !ok {
		return fmt.Errorf("pool %d not found", poolID)
	}
	p.Flags.Refunded = true
	if settlementTx != nil {
		p.SettlementTx = settlementTx
	}
	return nil
}

func (r *PoolRepository) MaxPoolID(ctx context.Context) (uint64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var max uint64
	found := false
	for id := range r.pools {
		if !found || id > max {
			max = id
			found = true
		}
	}
	return max, found, nil
}

func (r *PoolRepository) ListOpenGuidedPools(ctx context.Context) ([]*entity.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Pool
	for _, p := range r.pools {
		if p.Oracle == entity.OracleGuided && p.IsOpen() {
			out = append(out, clonePool(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PoolID < out[j].PoolID })
	return out, nil
}

func (r *PoolRepository) ListOpenPoolsByMarketHash(ctx context.Context, marketIDHash common.Hash) ([]*entity.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Pool
	for _, p := range r.pools {
		if p.IsOpen() && crypto.Keccak256Hash([]byte(p.MarketID)) == marketIDHash {
			out = append(out, clonePool(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PoolID < out[j].PoolID })
	return out, nil
}

type betKey struct {
	txHash   string
	logIndex uint32
}

// BetRepository is the in-memory bet store.
type BetRepository struct {
	mu   sync.RWMutex
	bets map[betKey]*entity.Bet
}

// NewBetRepository creates an in-memory bet repository.
func NewBetRepository() *BetRepository {
	return &BetRepository{bets: make(map[betKey]*entity.Bet)}
}

func (r *BetRepository) InsertBet(ctx context.Context, tx pgx.Tx, bet *entity.Bet) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := betKey{txHash: string(bet.TxHash), logIndex: bet.LogIndex}
	if _, exists := r.bets[key]; exists {
		return false, nil
	}
	cp := *bet
	cp.Amount = new(big.Int).Set(bet.Amount)
	r.bets[key] = &cp
	return true, nil
}

func (r *BetRepository) SumForOutcome(ctx context.Context, poolID uint64) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sum := new(big.Int)
	for _, b := range r.bets {
		if b.PoolID == poolID && b.IsForOutcome {
			sum.Add(sum, b.Amount)
		}
	}
	return sum, nil
}

func (r *BetRepository) CountByPool(ctx context.Context, poolID uint64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, b := range r.bets {
		if b.PoolID == poolID {
			count++
		}
	}
	return count, nil
}

func cloneFixture(f *entity.Fixture) *entity.Fixture {
	cp := *f
	clone := func(v *int) *int {
		if v == nil {
			return nil
		}
		n := *v
		return &n
	}
	cp.HomeScore = clone(f.HomeScore)
	cp.AwayScore = clone(f.AwayScore)
	cp.HTHomeScore = clone(f.HTHomeScore)
	cp.HTAwayScore = clone(f.HTAwayScore)
	if f.FinishedAt != nil {
		at := *f.FinishedAt
		cp.FinishedAt = &at
	}
	return &cp
}

// FixtureRepository is the in-memory fixture catalogue.
type FixtureRepository struct {
	mu       sync.RWMutex
	fixtures map[string]*entity.Fixture

	// assigned marks fixtures locked into an unresolved cycle.
	assigned map[string]bool
}

// NewFixtureRepository creates an in-memory fixture repository.
func NewFixtureRepository() *FixtureRepository {
	return &FixtureRepository{
		fixtures: make(map[string]*entity.Fixture),
		assigned: make(map[string]bool),
	}
}

// AssignToCycle marks fixtures as belonging to an unresolved cycle, which
// excludes them from ListEligibleForCycle.
func (r *FixtureRepository) AssignToCycle(fixtureIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range fixtureIDs {
		r.assigned[id] = true
	}
}

func (r *FixtureRepository) UpsertFixture(ctx context.Context, f *entity.Fixture) error {
	if err := f.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.fixtures[f.FixtureID]; ok {
		cp := cloneFixture(f)
		cp.Status = existing.Status
		cp.HomeScore = existing.HomeScore
		cp.AwayScore = existing.AwayScore
		cp.HTHomeScore = existing.HTHomeScore
		cp.HTAwayScore = existing.HTAwayScore
		cp.FinishedAt = existing.FinishedAt
		r.fixtures[f.FixtureID] = cp
		return nil
	}
	r.fixtures[f.FixtureID] = cloneFixture(f)
	return nil
}

func (r *FixtureRepository) UpdateScores(ctx context.Context, f *entity.Fixture) error {
	if err := f.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.fixtures[f.FixtureID]
	if !ok {
		return fmt.Errorf("fixture %s not found", f.FixtureID)
	}
	cp := cloneFixture(f)
	cp.League = existing.League
	cp.HomeTeam = existing.HomeTeam
	cp.AwayTeam = existing.AwayTeam
	cp.MatchDate = existing.MatchDate
	cp.Odds = existing.Odds
	r.fixtures[f.FixtureID] = cp
	return nil
}

func (r *FixtureRepository) GetFixture(ctx context.Context, fixtureID string) (*entity.Fixture, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fixtures[fixtureID]
	if !ok {
		return nil, nil
	}
	return cloneFixture(f), nil
}

func (r *FixtureRepository) ListByIDs(ctx context.Context, fixtureIDs []string) ([]*entity.Fixture, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Fixture
	for _, id := range fixtureIDs {
		if f, ok := r.fixtures[id]; ok {
			out = append(out, cloneFixture(f))
		}
	}
	return out, nil
}

func (r *FixtureRepository) ListTracked(ctx context.Context, horizon time.Time) ([]*entity.Fixture, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Fixture
	for _, f := range r.fixtures {
		if !f.Status.IsTerminal() && !f.MatchDate.After(horizon) {
			out = append(out, cloneFixture(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchDate.Before(out[j].MatchDate) })
	return out, nil
}

func (r *FixtureRepository) ListEligibleForCycle(ctx context.Context, windowStart, windowEnd time.Time) ([]*entity.Fixture, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Fixture
	for _, f := range r.fixtures {
		if f.Status != entity.FixtureScheduled || r.assigned[f.FixtureID] {
			continue
		}
		if f.MatchDate.Before(windowStart) || !f.MatchDate.Before(windowEnd) {
			continue
		}
		if !f.Odds.Complete() {
			continue
		}
		out = append(out, cloneFixture(f))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MatchDate.Equal(out[j].MatchDate) {
			return out[i].FixtureID < out[j].FixtureID
		}
		return out[i].MatchDate.Before(out[j].MatchDate)
	})
	return out, nil
}

// MarketRepository is the in-memory prediction-market store.
type MarketRepository struct {
	mu      sync.RWMutex
	markets map[uint64]*entity.PredictionMarket

	// submissions lets ListSubmittable exclude already-submitted markets;
	// wire the same SubmissionRepository the service under test uses.
	submissions *SubmissionRepository
	pools       *PoolRepository
	fixtures    *FixtureRepository
}

// NewMarketRepository creates an in-memory market repository joined to the
// pool, fixture and submission stores it filters against.
func NewMarketRepository(pools *PoolRepository, fixtures *FixtureRepository, submissions *SubmissionRepository) *MarketRepository {
	return &MarketRepository{
		markets:     make(map[uint64]*entity.PredictionMarket),
		pools:       pools,
		fixtures:    fixtures,
		submissions: submissions,
	}
}

func (r *MarketRepository) UpsertMarket(ctx context.Context, tx pgx.Tx, m *entity.PredictionMarket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	if m.ResultOutcome != nil {
		v := *m.ResultOutcome
		cp.ResultOutcome = &v
	}
	r.markets[m.PoolID] = &cp
	return nil
}

func (r *MarketRepository) ResolveMarket(ctx context.Context, poolID uint64, marketID, outcome string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.markets[poolID]
	if !ok || m.MarketID != marketID {
		return fmt.Errorf("market %s for pool %d not found", marketID, poolID)
	}
	m.ResultOutcome = &outcome
	m.State = entity.MarketResolved
	return nil
}

func (r *MarketRepository) ListByFixture(ctx context.Context, fixtureID string) ([]*entity.PredictionMarket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.PredictionMarket
	for _, m := range r.markets {
		if m.FixtureID == fixtureID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PoolID < out[j].PoolID })
	return out, nil
}

func (r *MarketRepository) ListSubmittable(ctx context.Context) ([]outbound.MarketSubmittable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []outbound.MarketSubmittable
	for _, m := range r.markets {
		if m.State != entity.MarketResolved || m.ResultOutcome == nil {
			continue
		}
		pool, _ := r.pools.GetPool(ctx, m.PoolID)
		if pool == nil || pool.Oracle != entity.OracleGuided || !pool.IsOpen() {
			continue
		}
		fixture, _ := r.fixtures.GetFixture(ctx, m.FixtureID)
		if fixture == nil || fixture.Status != entity.FixtureFinished {
			continue
		}
		if sub, _ := r.submissions.Get(ctx, m.MarketID); sub != nil {
			continue
		}
		out = append(out, outbound.MarketSubmittable{
			PoolID:    m.PoolID,
			MarketID:  m.MarketID,
			FixtureID: m.FixtureID,
			Outcome:   *m.ResultOutcome,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PoolID < out[j].PoolID })
	return out, nil
}

// SubmissionRepository is the in-memory submission store.
type SubmissionRepository struct {
	mu   sync.RWMutex
	subs map[string]*entity.OracleSubmission
}

// NewSubmissionRepository creates an in-memory submission repository.
func NewSubmissionRepository() *SubmissionRepository {
	return &SubmissionRepository{subs: make(map[string]*entity.OracleSubmission)}
}

func (r *SubmissionRepository) Insert(ctx context.Context, s *entity.OracleSubmission) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.subs[s.MarketID]; exists {
		return false, nil
	}
	cp := *s
	r.subs[s.MarketID] = &cp
	return true, nil
}

func (r *SubmissionRepository) Get(ctx context.Context, marketID string) (*entity.OracleSubmission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[marketID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// CursorRepository is the in-memory cursor store.
type CursorRepository struct {
	mu      sync.RWMutex
	cursors map[string]uint64
}

// NewCursorRepository creates an in-memory cursor repository.
func NewCursorRepository() *CursorRepository {
	return &CursorRepository{cursors: make(map[string]uint64)}
}

func (r *CursorRepository) Get(ctx context.Context, stream string) (uint64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	last, ok := r.cursors[stream]
	return last, ok, nil
}

func (r *CursorRepository) Set(ctx context.Context, tx pgx.Tx, stream string, lastIndexed uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[stream] = lastIndexed
	return nil
}

type eventKey struct {
	blockNumber uint64
	txHash      string
	logIndex    uint32
}

// EventRepository is the in-memory raw event store.
type EventRepository struct {
	mu     sync.RWMutex
	events map[eventKey]*entity.ChainEvent
}

// NewEventRepository creates an in-memory event repository.
func NewEventRepository() *EventRepository {
	return &EventRepository{events: make(map[eventKey]*entity.ChainEvent)}
}

func (r *EventRepository) SaveEvent(ctx context.Context, tx pgx.Tx, e *entity.ChainEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := eventKey{blockNumber: e.BlockNumber, txHash: string(e.TxHash), logIndex: e.LogIndex}
	if _, exists := r.events[key]; exists {
		return false, nil
	}
	cp := *e
	cp.EventData = append(json.RawMessage(nil), e.EventData...)
	r.events[key] = &cp
	return true, nil
}

// Events returns all saved events ordered by (block, log index).
func (r *EventRepository) Events() []*entity.ChainEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.ChainEvent, 0, len(r.events))
	for _, e := range r.events {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out
}

// AnomalyRepository is the in-memory anomaly store.
type AnomalyRepository struct {
	mu        sync.RWMutex
	anomalies []*entity.Anomaly
}

// NewAnomalyRepository creates an in-memory anomaly repository.
func NewAnomalyRepository() *AnomalyRepository {
	return &AnomalyRepository{}
}

func (r *AnomalyRepository) Record(ctx context.Context, a *entity.Anomaly) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	cp.ID = int64(len(r.anomalies) + 1)
	r.anomalies = append(r.anomalies, &cp)
	return nil
}

func (r *AnomalyRepository) ListRecent(ctx context.Context, limit int) ([]*entity.Anomaly, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Anomaly
	for i := len(r.anomalies) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *r.anomalies[i]
		out = append(out, &cp)
	}
	return out, nil
}
