package duel

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/duelengine/pkg/app/core/asset"
	"github.com/uhyunpark/duelengine/pkg/app/core/ledger"
	"github.com/uhyunpark/duelengine/pkg/app/core/match"
	"github.com/uhyunpark/duelengine/pkg/app/core/performance"
	"github.com/uhyunpark/duelengine/pkg/app/core/reconcile"
	"github.com/uhyunpark/duelengine/pkg/app/core/risk"
	"github.com/uhyunpark/duelengine/pkg/settlement"
)

// Engine runs one participant's side of a duel.
//
// Every entry point (price ticks, commands, clock advances, settlement) takes the same
// lock, so a tick finishes its risk evaluation before the next tick or command runs.
// Nothing in the engine performs I/O except observers and the recorder, which are
// invoked on the same sequence.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	catalog *asset.Catalog
	logger  *zap.SugaredLogger

	prices   map[string]float64 // last valid tick per catalog symbol
	selected int
	seq      uint64

	m *matchState

	observers []Observer
	recorder  Recorder
}

type matchState struct {
	id          string
	practice    bool
	bet         float64
	opponentID  string
	opponentTag string
	startedAt   time.Time
	endedAt     time.Time
	forfeit     bool

	ledger *ledger.Ledger
	risk   *risk.Engine
	clock  *match.Clock
	perf   *performance.Tracker
	recon  *reconcile.Controller

	outcomeRecorded bool
}

func New(cfg Config, catalog *asset.Catalog, logger *zap.SugaredLogger) *Engine {
	if cfg.StartingBalance <= 0 {
		cfg.StartingBalance = DefaultStartingBalance
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = DefaultDuration
	}
	if cfg.RevealTicks <= 0 {
		cfg.RevealTicks = reconcile.DefaultRevealTicks
	}
	if cfg.OpeningBellFraction <= 0 {
		cfg.OpeningBellFraction = match.DefaultOpeningBellFraction
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		cfg:     cfg,
		catalog: catalog,
		logger:  logger,
		prices:  make(map[string]float64),
	}
}

// Subscribe registers an observer for snapshots and events
func (e *Engine) Subscribe(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// SetRecorder installs the match history sink
func (e *Engine) SetRecorder(r Recorder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recorder = r
}

func (e *Engine) Catalog() *asset.Catalog { return e.catalog }

// StartMatch discards any previous match and starts a ranked one
func (e *Engine) StartMatch(p StartParams) (Snapshot, error) {
	if math.IsNaN(p.Bet) || math.IsInf(p.Bet, 0) || p.Bet < 0 {
		return Snapshot{}, fmt.Errorf("bet %v: %w", p.Bet, ErrInvalidBet)
	}
	return e.start(p, false)
}

// StartPracticeMatch starts a match that never waits for settlement
func (e *Engine) StartPracticeMatch(durationSeconds int) (Snapshot, error) {
	return e.start(StartParams{DurationSeconds: durationSeconds}, true)
}

func (e *Engine) start(p StartParams, practice bool) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p.DurationSeconds == 0 {
		p.DurationSeconds = e.cfg.DefaultDuration
	}
	clock, err := match.NewClock(p.DurationSeconds, e.cfg.OpeningBellFraction)
	if err != nil {
		return Snapshot{}, err
	}
	id := p.MatchID
	if id == "" {
		id = uuid.NewString()
	}

	l := ledger.New(e.catalog, e.cfg.StartingBalance, e.cfg.Now)
	m := &matchState{
		id:          id,
		practice:    practice,
		bet:         p.Bet,
		opponentID:  p.OpponentID,
		opponentTag: p.OpponentTag,
		startedAt:   e.cfg.Now(),
		ledger:      l,
		risk:        risk.NewEngine(l, e.logger.With("match_id", id)),
		clock:       clock,
		perf:        performance.NewTracker(e.cfg.StartingBalance),
		recon:       reconcile.New(id, e.cfg.SelfID, practice, e.cfg.RevealTicks),
	}
	if prev := e.m; prev != nil && !prev.clock.Ended() {
		e.logger.Warnw("match_discarded", "match_id", prev.id, "remaining", prev.clock.Remaining())
	}
	e.m = m

	e.logger.Infow("match_started",
		"match_id", id,
		"practice", practice,
		"duration", p.DurationSeconds,
		"bet", p.Bet,
		"opponent_id", p.OpponentID,
	)
	snap := e.publish(e.event(EventMatchStarted, p))
	return snap, nil
}

// OpenPosition opens a market position at the current price of the symbol
func (e *Engine) OpenPosition(p OpenParams) (ledger.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.active()
	if err != nil {
		return ledger.Position{}, err
	}
	req := e.request(p)
	price, _ := e.priceOf(req.Symbol)
	pos, err := m.ledger.Open(req, price)
	if err != nil {
		return ledger.Position{}, err
	}
	m.perf.RecordOpen(pos)

	e.logger.Infow("position_opened",
		"match_id", m.id,
		"position_id", pos.ID,
		"symbol", pos.Symbol,
		"direction", pos.Direction,
		"size", pos.Size,
		"leverage", pos.Leverage,
		"entry_price", pos.EntryPrice,
	)
	e.publish(e.event(EventPositionOpened, pos))
	return pos, nil
}

// PlaceLimitOrder stores an order that fills when the market crosses limitPrice
func (e *Engine) PlaceLimitOrder(p OpenParams, limitPrice float64) (ledger.LimitOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.active()
	if err != nil {
		return ledger.LimitOrder{}, err
	}
	o, err := m.ledger.PlaceLimitOrder(e.request(p), limitPrice)
	if err != nil {
		return ledger.LimitOrder{}, err
	}
	e.logger.Infow("limit_order_placed", "match_id", m.id, "order_id", o.ID, "symbol", o.Symbol, "limit_price", o.LimitPrice, "size", o.Size)
	e.publish(e.event(EventOrderPlaced, o))
	return o, nil
}

func (e *Engine) CancelLimitOrder(id string) (ledger.LimitOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.active()
	if err != nil {
		return ledger.LimitOrder{}, err
	}
	o, err := m.ledger.CancelLimitOrder(id)
	if err != nil {
		return ledger.LimitOrder{}, err
	}
	e.publish(e.event(EventOrderCancelled, o))
	return o, nil
}

// ClosePosition closes the whole position at the current price (reason manual)
func (e *Engine) ClosePosition(id string) (ledger.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.active()
	if err != nil {
		return ledger.Trade{}, err
	}
	pos, ok := m.ledger.Position(id)
	if !ok {
		return ledger.Trade{}, fmt.Errorf("close %s: %w", id, ledger.ErrPositionNotFound)
	}
	price, _ := e.priceOf(pos.Symbol)
	tr, err := m.ledger.Close(id, price, ledger.ReasonManual)
	if err != nil {
		return ledger.Trade{}, err
	}
	m.perf.RecordClose(tr)
	e.logger.Infow("position_closed", "match_id", m.id, "position_id", id, "reason", tr.Reason, "exit_price", tr.ExitPrice, "pnl", tr.PnL)
	e.publish(e.event(EventPositionClosed, tr))
	return tr, nil
}

// ClosePositionPartial realizes fraction of the position at the current price
func (e *Engine) ClosePositionPartial(id string, fraction float64) (ledger.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.active()
	if err != nil {
		return ledger.Trade{}, err
	}
	pos, ok := m.ledger.Position(id)
	if !ok {
		return ledger.Trade{}, fmt.Errorf("close %s: %w", id, ledger.ErrPositionNotFound)
	}
	price, _ := e.priceOf(pos.Symbol)
	tr, err := m.ledger.ClosePartial(id, fraction, price)
	if err != nil {
		return ledger.Trade{}, err
	}
	if after, _ := m.ledger.Position(id); after.IsOpen() {
		m.perf.RecordPartial(tr)
	} else {
		m.perf.RecordClose(tr)
	}
	e.logger.Infow("position_closed", "match_id", m.id, "position_id", id, "reason", tr.Reason, "fraction", fraction, "exit_price", tr.ExitPrice, "pnl", tr.PnL)
	e.publish(e.event(EventPositionClosed, tr))
	return tr, nil
}

func (e *Engine) UpdateStopTakeProfit(id string, u ledger.StopUpdate) (ledger.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.active()
	if err != nil {
		return ledger.Position{}, err
	}
	pos, err := m.ledger.UpdateStops(id, u)
	if err != nil {
		return ledger.Position{}, err
	}
	e.publish()
	return pos, nil
}

// SelectAsset sets the default symbol for commands that omit one.
// It works with or without an active match.
func (e *Engine) SelectAsset(index int) (asset.Asset, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.catalog.At(index)
	if !ok {
		return asset.Asset{}, fmt.Errorf("asset index %d: %w", index, ledger.ErrUnknownAsset)
	}
	e.selected = index
	e.publish()
	return a, nil
}

// EndMatch finishes the active match now. A forfeit is recorded as such.
func (e *Engine) EndMatch(isForfeit bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.active(); err != nil {
		return err
	}
	e.publish(e.finish(isForfeit)...)
	return nil
}

// OnTick ingests a symbol → price map. Feed aliases are accepted. Unknown symbols
// and prices that are not finite and positive are ignored. Only symbols whose
// price moved are re-evaluated. OnTick never fails.
func (e *Engine) OnTick(prices map[string]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := make(map[string]float64, len(prices))
	for sym, p := range prices {
		a, ok := e.catalog.ByFeed(sym)
		if !ok || math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
			continue
		}
		if last, seen := e.prices[a.Symbol]; seen && last == p {
			continue
		}
		e.prices[a.Symbol] = p
		changed[a.Symbol] = p
	}
	if len(changed) == 0 {
		return
	}

	var events []Event
	if m := e.m; m != nil && !m.clock.Ended() {
		for _, ev := range m.risk.OnTick(changed) {
			events = append(events, e.riskEvent(m, ev))
		}
	}
	e.publish(events...)
}

// Advance moves the match clock forward by seconds. Once the match has ended the
// same seconds drive the reveal countdown.
func (e *Engine) Advance(seconds int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.m
	if m == nil || seconds <= 0 {
		return
	}

	var events []Event
	if !m.clock.Ended() {
		tr, expired := m.clock.Advance(seconds)
		if tr != nil && tr.To.Notifies() {
			e.logger.Infow("phase_changed", "match_id", m.id, "phase", tr.To, "remaining", tr.Remaining)
			events = append(events, e.event(EventPhase, *tr))
		}
		if expired {
			events = append(events, e.finish(false)...)
		}
		e.publish(events...)
		return
	}

	if m.recon.State() != reconcile.StateCountdown {
		return
	}
	for i := 0; i < seconds; i++ {
		if m.recon.Tick() {
			events = append(events, e.reveal(m)...)
			break
		}
	}
	e.publish(events...)
}

// SetOpponentROI records a live (non-authoritative) opponent ROI for matchID.
// It reports false when matchID is not the current match.
func (e *Engine) SetOpponentROI(matchID string, roi float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.m
	if m == nil || m.id != matchID || math.IsNaN(roi) || math.IsInf(roi, 0) {
		return false
	}
	m.recon.SetLocalOpponentROI(roi)
	e.publish()
	return true
}

// ApplySettlement hands the authoritative result to reconciliation.
// It reports whether the result was new; a replay of the same result is a no-op.
func (e *Engine) ApplySettlement(r reconcile.Result) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.m
	if m == nil {
		return false, ErrNoMatch
	}
	if m.practice {
		return false, fmt.Errorf("match %s: %w", m.id, ErrPracticeMatch)
	}
	applied, err := m.recon.Apply(r)
	if err != nil {
		e.logger.Warnw("settlement_rejected", "match_id", m.id, "err", err)
		return false, err
	}
	if !applied {
		return false, nil
	}

	e.logger.Infow("settlement_applied",
		"match_id", m.id,
		"winner_id", r.WinnerID,
		"is_tie", r.IsTie,
		"is_forfeit", r.IsForfeit,
		"self_roi", r.SelfROI,
		"opponent_roi", r.OpponentROI,
	)
	if m.clock.Ended() {
		e.save(m)
	}
	e.publish(e.event(EventSettlementApplied, r))
	return true, nil
}

// Snapshot returns the current read model
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

// Record returns the history record of the current match
func (e *Engine) Record() (Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.m == nil {
		return Record{}, ErrNoMatch
	}
	return e.record(e.m), nil
}

// finish is the only path that ends a match: timer expiry and EndMatch both land here.
// Open positions close at the last price with reason match-end and pending orders drop.
func (e *Engine) finish(forfeit bool) []Event {
	m := e.m
	var events []Event
	// no-op after expiry
	m.clock.Stop()

	for _, pos := range m.ledger.OpenPositions() {
		price, _ := e.priceOf(pos.Symbol)
		tr, err := m.ledger.Close(pos.ID, price, ledger.ReasonMatchEnd)
		if err != nil {
			e.logger.Warnw("match_end_close_failed", "match_id", m.id, "position_id", pos.ID, "err", err)
			continue
		}
		m.perf.RecordClose(tr)
		events = append(events, e.event(EventPositionClosed, tr))
	}
	if n := m.ledger.DropOrders(); n > 0 {
		e.logger.Infow("orders_dropped", "match_id", m.id, "count", n)
	}

	m.forfeit = forfeit
	m.endedAt = e.cfg.Now()
	if ev := e.recompute(m); ev != nil {
		events = append(events, *ev)
	}
	m.recon.Begin(forfeit)

	e.logger.Infow("match_ended",
		"match_id", m.id,
		"forfeit", forfeit,
		"balance", m.ledger.Balance(),
		"roi", m.perf.ROI(),
		"lead_changes", m.perf.Stats().LeadChanges,
	)
	events = append(events, e.event(EventMatchEnded, map[string]any{"forfeit": forfeit, "roi": m.perf.ROI()}))
	e.save(m)
	return events
}

func (e *Engine) reveal(m *matchState) []Event {
	v := m.recon.Verdict()
	e.logger.Infow("match_revealed", "match_id", m.id, "outcome", v.Outcome, "final", v.Final, "winner_id", v.WinnerID)
	events := []Event{e.event(EventRevealed, v)}
	e.save(m)

	if v.Final && !m.practice && !m.outcomeRecorded && e.recorder != nil {
		if err := e.recorder.RecordOutcome(e.record(m)); err != nil {
			e.logger.Errorw("record_outcome_failed", "match_id", m.id, "err", err)
		} else {
			m.outcomeRecorded = true
		}
	}
	return events
}

func (e *Engine) save(m *matchState) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.SaveMatch(e.record(m)); err != nil {
		e.logger.Errorw("save_match_failed", "match_id", m.id, "err", err)
	}
}

func (e *Engine) riskEvent(m *matchState, ev risk.Event) Event {
	switch ev.Kind {
	case risk.EventClosed:
		m.perf.RecordClose(ev.Trade)
		return e.event(EventPositionClosed, ev.Trade)
	case risk.EventFilled:
		m.perf.RecordOpen(ev.Position)
		return e.event(EventOrderFilled, ev.Position)
	default:
		return e.event(EventOrderDropped, map[string]any{"order": ev.Order, "error": ev.Err.Error()})
	}
}

func (e *Engine) active() (*matchState, error) {
	if e.m == nil || e.m.clock.Ended() {
		return nil, ErrMatchNotActive
	}
	return e.m, nil
}

func (e *Engine) request(p OpenParams) ledger.OpenRequest {
	sym := p.Symbol
	if sym == "" {
		if a, ok := e.catalog.At(e.selected); ok {
			sym = a.Symbol
		}
	} else if a, ok := e.catalog.ByFeed(sym); ok {
		sym = a.Symbol
	}
	return ledger.OpenRequest{
		Symbol:           sym,
		Direction:        p.Direction,
		Size:             p.Size,
		Leverage:         p.Leverage,
		StopLoss:         p.StopLoss,
		TakeProfit:       p.TakeProfit,
		TrailingDistance: p.TrailingDistance,
	}
}

// priceOf returns the last tick for symbol, or its catalog base price before any tick
func (e *Engine) priceOf(symbol string) (float64, bool) {
	if p, ok := e.prices[symbol]; ok {
		return p, true
	}
	if a, ok := e.catalog.Get(symbol); ok {
		return a.BasePrice, true
	}
	return 0, false
}

// recompute refreshes equity, ROI and the lead, and reports a lead change
func (e *Engine) recompute(m *matchState) *Event {
	// margin is debited from the balance on open, so it is added back for equity
	account := m.ledger.Balance() + m.ledger.LockedMargin()
	unrealized := m.ledger.UnrealizedPnL(e.priceOf)
	flipped := m.perf.Recompute(account, unrealized, m.recon.OpponentROI().Value())
	m.recon.SetLocalSelfROI(m.perf.ROI())
	if !flipped {
		return nil
	}
	e.logger.Infow("lead_changed", "match_id", m.id, "leading", m.perf.Leading(), "lead_changes", m.perf.Stats().LeadChanges)
	ev := e.event(EventLeadChange, map[string]any{"leading": m.perf.Leading(), "leadChanges": m.perf.Stats().LeadChanges})
	return &ev
}

// publish recomputes performance, builds the snapshot and hands it to observers
func (e *Engine) publish(events ...Event) Snapshot {
	if m := e.m; m != nil && !m.clock.Ended() {
		if ev := e.recompute(m); ev != nil {
			events = append(events, *ev)
		}
	}
	e.seq++
	snap := e.snapshot()
	for _, o := range e.observers {
		o.Observe(snap, events)
	}
	return snap
}

func (e *Engine) event(t EventType, data any) Event {
	ev := Event{Type: t, At: e.cfg.Now(), Data: data}
	if e.m != nil {
		ev.MatchID = e.m.id
	}
	return ev
}

func (e *Engine) snapshot() Snapshot {
	s := Snapshot{
		Seq:             e.seq,
		SelfID:          e.cfg.SelfID,
		StartingBalance: e.cfg.StartingBalance,
		Balance:         e.cfg.StartingBalance,
		Equity:          e.cfg.StartingBalance,
		Prices:          make(map[string]float64, e.catalog.Len()),
		Positions:       []PositionView{},
		History:         []ledger.Position{},
		Orders:          []ledger.LimitOrder{},
	}
	for _, a := range e.catalog.List() {
		s.Prices[a.Symbol], _ = e.priceOf(a.Symbol)
	}
	if a, ok := e.catalog.At(e.selected); ok {
		s.SelectedAsset = a.Symbol
	}

	m := e.m
	if m == nil {
		return s
	}
	s.MatchID = m.id
	s.Active = !m.clock.Ended()
	s.Practice = m.practice
	s.Phase = m.clock.Phase()
	s.Duration = m.clock.Duration()
	s.Remain = m.clock.Remaining()
	s.Balance = m.ledger.Balance()
	s.Equity = m.perf.Equity()
	s.ROI = m.recon.SelfROI()
	s.Leading = m.perf.Leading()
	s.OpponentID = m.opponentID
	s.OpponentTag = m.opponentTag
	s.OpponentROI = m.recon.OpponentROI()
	s.Stats = m.perf.Stats()
	s.Bet = m.bet
	s.Reconciliation = m.recon.State()
	s.Countdown = m.recon.Countdown()
	s.Forfeit = m.forfeit

	for _, pos := range m.ledger.Positions() {
		if !pos.IsOpen() {
			s.History = append(s.History, pos)
			continue
		}
		s.Positions = append(s.Positions, e.view(pos))
	}
	s.Orders = append(s.Orders, m.ledger.Orders()...)

	if m.recon.State() == reconcile.StateRevealed {
		v := m.recon.Verdict()
		s.Verdict = &v
		if v.Final {
			p := settlement.ProjectPayout(m.bet, e.cfg.FeeBps, v.Outcome)
			s.Payout = &p
		}
	}
	return s
}

func (e *Engine) view(pos ledger.Position) PositionView {
	price, _ := e.priceOf(pos.Symbol)
	v := PositionView{
		Position:         pos,
		MarkPrice:        price,
		PnL:              pos.PnL(price),
		PnLPercent:       pos.PnLPercent(price),
		LiquidationPrice: risk.LiquidationPrice(pos.Direction, pos.EntryPrice, pos.Leverage),
	}
	if stop, ok := pos.TrailingStopPrice(); ok {
		v.TrailingStop = &stop
	}
	return v
}

func (e *Engine) record(m *matchState) Record {
	r := Record{
		MatchID:         m.id,
		SelfID:          e.cfg.SelfID,
		SelfTag:         e.cfg.SelfTag,
		OpponentID:      m.opponentID,
		OpponentTag:     m.opponentTag,
		Practice:        m.practice,
		Forfeit:         m.forfeit,
		Bet:             m.bet,
		DurationSeconds: m.clock.Duration(),
		StartedAt:       m.startedAt,
		EndedAt:         m.endedAt,
		StartingBalance: m.perf.InitialBalance(),
		FinalBalance:    m.ledger.Balance(),
		ROI:             m.recon.SelfROI(),
		OpponentROI:     m.recon.OpponentROI(),
		Positions:       m.ledger.Positions(),
		Trades:          m.ledger.Trades(),
		Stats:           m.perf.Stats(),
		Reconciliation:  m.recon.State(),
		Verdict:         m.recon.Verdict(),
	}
	if res, ok := m.recon.Result(); ok {
		r.Result = &res
	}
	return r
}
