package app

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/perpbook/perpbook/params"
	"github.com/perpbook/perpbook/pkg/engine"
	"github.com/perpbook/perpbook/pkg/metrics"
	"github.com/perpbook/perpbook/pkg/storage"
	"github.com/perpbook/perpbook/pkg/util"
)

// FillBroadcaster is called for every fill an instruction produced.
type FillBroadcaster func(symbol string, fill engine.FillEvent, unix int64)

// Exchange is the host around the market engine: it owns one engine
// instance per symbol, serializes instructions per market the way the
// runtime serializes account access, persists the buffer after every
// mutation, and fans fills out to subscribers. Instructions on different
// markets run in parallel; the engine itself never sees concurrency.
type Exchange struct {
	mu      sync.RWMutex
	markets map[string]*marketSlot

	store *storage.Store
	log   *zap.Logger
	clock util.Clock

	// OnFill, when set, receives every fill (WebSocket hub wiring).
	OnFill FillBroadcaster
}

type marketSlot struct {
	mu        sync.Mutex
	symbol    string
	market    *engine.Market
	fillCount uint64
}

func NewExchange(store *storage.Store, log *zap.Logger, clock util.Clock) *Exchange {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Exchange{
		markets: make(map[string]*marketSlot),
		store:   store,
		log:     log,
		clock:   clock,
	}
}

// OpenMarket loads the symbol from storage or creates it fresh from the
// configured parameters.
func (e *Exchange) OpenMarket(cfg params.Market) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.markets[cfg.Symbol]; exists {
		return fmt.Errorf("market %s already open", cfg.Symbol)
	}

	var m *engine.Market
	if e.store != nil {
		loaded, err := e.store.LoadMarket(cfg.Symbol)
		if err != nil {
			return err
		}
		m = loaded
	}
	if m == nil {
		created, err := engine.CreateMarket(engine.Params{
			BaseMint:       common.BytesToHash([]byte(cfg.Symbol + ":base")),
			QuoteMint:      common.BytesToHash([]byte(cfg.Symbol + ":quote")),
			BaseDecimals:   cfg.BaseDecimals,
			QuoteDecimals:  cfg.QuoteDecimals,
			MaintenanceBps: cfg.MaintenanceBps,
			Blocks:         cfg.InitialBlocks,
		})
		if err != nil {
			return fmt.Errorf("create market %s: %w", cfg.Symbol, err)
		}
		m = created
		e.log.Info("market_created",
			zap.String("symbol", cfg.Symbol),
			zap.Uint32("blocks", cfg.InitialBlocks),
			zap.Uint32("maintenance_bps", cfg.MaintenanceBps))
	} else {
		e.log.Info("market_loaded",
			zap.String("symbol", cfg.Symbol),
			zap.Uint32("blocks", m.NumBlocks()),
			zap.Uint64("next_seq", m.NextSequence()))
	}

	e.markets[cfg.Symbol] = &marketSlot{symbol: cfg.Symbol, market: m}
	metrics.FreeBlocks.WithLabelValues(cfg.Symbol).Set(float64(m.FreeBlocks()))
	return e.persist(cfg.Symbol, m)
}

// Symbols lists open markets.
func (e *Exchange) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.markets))
	for sym := range e.markets {
		out = append(out, sym)
	}
	return out
}

func (e *Exchange) slot(symbol string) (*marketSlot, error) {
	e.mu.RLock()
	s, ok := e.markets[symbol]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("market %s: %w", symbol, engine.ErrNotFound)
	}
	return s, nil
}

// withMarket runs fn with exclusive access to the symbol's engine and
// persists the buffer if fn mutated without error.
func (e *Exchange) withMarket(symbol string, fn func(m *engine.Market) error) error {
	s, err := e.slot(symbol)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.market); err != nil {
		return err
	}
	metrics.FreeBlocks.WithLabelValues(symbol).Set(float64(s.market.FreeBlocks()))
	return e.persist(symbol, s.market)
}

func (e *Exchange) persist(symbol string, m *engine.Market) error {
	if e.store == nil {
		return nil
	}
	return e.store.SaveMarket(symbol, m.Snapshot(), storage.MarketMeta{
		Symbol:        symbol,
		BaseDecimals:  m.BaseDecimals(),
		QuoteDecimals: m.QuoteDecimals(),
		SavedAtUnix:   e.clock.Now().Unix(),
	})
}

// unixSlot is the slot value handed to the engine's expiry gate. The host
// uses unix seconds as the slot clock.
func (e *Exchange) unixSlot() uint64 {
	return uint64(e.clock.Now().Unix())
}

func (e *Exchange) ClaimSeat(symbol string, trader engine.TraderID) error {
	return e.withMarket(symbol, func(m *engine.Market) error {
		if err := m.ClaimSeat(trader); err != nil {
			return err
		}
		e.log.Info("seat_claimed", zap.String("symbol", symbol), zap.String("trader", trader.Hex()))
		return nil
	})
}

func (e *Exchange) Deposit(symbol string, trader engine.TraderID, base bool, amount uint64) error {
	return e.withMarket(symbol, func(m *engine.Market) error {
		return m.Deposit(trader, base, amount)
	})
}

func (e *Exchange) Withdraw(symbol string, trader engine.TraderID, base bool, amount uint64) error {
	return e.withMarket(symbol, func(m *engine.Market) error {
		return m.Withdraw(trader, base, amount)
	})
}

func (e *Exchange) PlaceOrder(symbol string, p engine.PlaceOrderParams) (engine.PlaceResult, error) {
	var (
		res    engine.PlaceResult
		capErr error
	)
	err := e.withMarket(symbol, func(m *engine.Market) error {
		p.Slot = e.unixSlot()
		r, err := m.PlaceOrder(p)
		if err == engine.ErrCapacity && len(r.Fills) > 0 {
			capErr = err
		} else if err != nil {
			return err
		}
		res = r
		metrics.Orders.WithLabelValues(symbol, p.Side.String(), p.Type.String()).Inc()
		e.emitFills(symbol, r.Fills)
		e.log.Info("order_placed",
			zap.String("symbol", symbol),
			zap.String("trader", p.Trader.Hex()),
			zap.String("side", p.Side.String()),
			zap.Uint64("base", p.BaseAtoms),
			zap.Uint64("seq", r.Sequence),
			zap.Int("fills", len(r.Fills)))
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, capErr
}

func (e *Exchange) CancelOrder(symbol string, trader engine.TraderID, seq uint64) error {
	return e.withMarket(symbol, func(m *engine.Market) error {
		if err := m.CancelOrder(trader, seq); err != nil {
			return err
		}
		e.log.Info("order_cancelled", zap.String("symbol", symbol), zap.Uint64("seq", seq))
		return nil
	})
}

func (e *Exchange) BatchUpdate(symbol string, trader engine.TraderID,
	cancels []uint64, places []engine.PlaceOrderParams) ([]engine.PlaceResult, error) {
	var results []engine.PlaceResult
	err := e.withMarket(symbol, func(m *engine.Market) error {
		slot := e.unixSlot()
		for i := range places {
			places[i].Slot = slot
		}
		rs, err := m.BatchUpdate(trader, cancels, places)
		if err != nil {
			return err
		}
		results = rs
		for _, r := range rs {
			e.emitFills(symbol, r.Fills)
		}
		return nil
	})
	return results, err
}

func (e *Exchange) Swap(symbol string, p engine.SwapParams) (engine.SwapResult, error) {
	var (
		res    engine.SwapResult
		capErr error
	)
	err := e.withMarket(symbol, func(m *engine.Market) error {
		p.Slot = e.unixSlot()
		r, err := m.Swap(p)
		if err == engine.ErrCapacity && len(r.Fills) > 0 {
			// Early stop: the fills are committed, so persist them and
			// surface the capacity error after the save.
			capErr = err
		} else if err != nil {
			return err
		}
		res = r
		e.emitFills(symbol, r.Fills)
		e.log.Info("swap",
			zap.String("symbol", symbol),
			zap.Uint64("in", r.In),
			zap.Uint64("out", r.Out),
			zap.Int("fills", len(r.Fills)))
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, capErr
}

func (e *Exchange) Liquidate(symbol string, liquidator, target engine.TraderID) (engine.LiquidateEvent, error) {
	var ev engine.LiquidateEvent
	err := e.withMarket(symbol, func(m *engine.Market) error {
		r, err := m.Liquidate(liquidator, target)
		if err != nil {
			return err
		}
		ev = r
		metrics.Liquidations.WithLabelValues(symbol).Inc()
		e.log.Info("liquidated",
			zap.String("symbol", symbol),
			zap.String("trader", target.Hex()),
			zap.Int64("position", r.PositionSize),
			zap.Int64("pnl", r.Pnl),
			zap.Uint64("reward", r.Reward))
		return nil
	})
	return ev, err
}

func (e *Exchange) CrankFunding(symbol string, oracleData []byte) (engine.FundingEvent, bool, error) {
	var (
		ev      engine.FundingEvent
		settled bool
	)
	err := e.withMarket(symbol, func(m *engine.Market) error {
		r, s, err := m.CrankFunding(oracleData, e.clock.Now().Unix())
		if err != nil {
			return err
		}
		ev, settled = r, s
		if s {
			metrics.FundingCranks.WithLabelValues(symbol).Inc()
			metrics.FundingRate.WithLabelValues(symbol).Set(float64(r.RateScaled))
			e.log.Info("funding_cranked",
				zap.String("symbol", symbol),
				zap.Int64("rate", r.RateScaled),
				zap.Uint64("oracle", r.OracleMantissa))
		}
		return nil
	})
	return ev, settled, err
}

func (e *Exchange) ExpandMarket(symbol string, blocks uint32) error {
	return e.withMarket(symbol, func(m *engine.Market) error {
		n := m.Expand(blocks)
		e.log.Info("market_expanded",
			zap.String("symbol", symbol),
			zap.Uint32("added", n),
			zap.Uint32("total", m.NumBlocks()))
		return nil
	})
}

func (e *Exchange) emitFills(symbol string, fills []engine.FillEvent) {
	if len(fills) == 0 {
		return
	}
	s, err := e.slot(symbol)
	if err != nil {
		return
	}
	now := e.clock.Now().Unix()
	for _, f := range fills {
		metrics.Fills.WithLabelValues(symbol).Inc()
		metrics.FillVolumeBase.WithLabelValues(symbol).Add(float64(f.BaseAtoms))
		if e.store != nil {
			s.fillCount++
			if err := e.store.AppendFill(s.fillCount, storage.FillRecord{
				Symbol:     symbol,
				Maker:      f.Maker.Hex(),
				Taker:      f.Taker.Hex(),
				PriceMant:  f.Price.Mantissa,
				PriceExpo:  f.Price.Exponent,
				BaseAtoms:  f.BaseAtoms,
				QuoteAtoms: f.QuoteAtoms,
				TakerSide:  f.TakerSide.String(),
				Unix:       now,
			}); err != nil {
				e.log.Warn("fill_log_write_failed", zap.Error(err))
			}
		}
		if e.OnFill != nil {
			e.OnFill(symbol, f, now)
		}
	}
}

// Queries. These take the per-market lock too: reads of the packed buffer
// must not interleave with a mutation.

// MarketInfo is a read-only summary for the API.
type MarketInfo struct {
	Symbol            string
	BaseDecimals      uint8
	QuoteDecimals     uint8
	MaintenanceBps    uint32
	NextSequence      uint64
	TotalLongBase     uint64
	TotalShortBase    uint64
	CumulativeFunding int64
	LastFundingTs     int64
	NumBlocks         uint32
	FreeBlocks        uint32
	BestBid           *engine.Order
	BestAsk           *engine.Order
}

func (e *Exchange) MarketInfo(symbol string) (MarketInfo, error) {
	s, err := e.slot(symbol)
	if err != nil {
		return MarketInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.market
	info := MarketInfo{
		Symbol:            symbol,
		BaseDecimals:      m.BaseDecimals(),
		QuoteDecimals:     m.QuoteDecimals(),
		MaintenanceBps:    m.MaintenanceBps(),
		NextSequence:      m.NextSequence(),
		TotalLongBase:     m.TotalLongBase(),
		TotalShortBase:    m.TotalShortBase(),
		CumulativeFunding: m.CumulativeFunding(),
		LastFundingTs:     m.LastFundingTs(),
		NumBlocks:         m.NumBlocks(),
		FreeBlocks:        m.FreeBlocks(),
	}
	if bb, ok := m.BestBid(); ok {
		info.BestBid = &bb
	}
	if ba, ok := m.BestAsk(); ok {
		info.BestAsk = &ba
	}
	return info, nil
}

func (e *Exchange) Levels(symbol string, side engine.Side) ([]engine.Level, error) {
	s, err := e.slot(symbol)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.market.Levels(side), nil
}

func (e *Exchange) Seat(symbol string, trader engine.TraderID) (engine.Seat, error) {
	s, err := e.slot(symbol)
	if err != nil {
		return engine.Seat{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.market.SeatByTrader(trader)
}

func (e *Exchange) Orders(symbol string, side engine.Side) ([]engine.Order, error) {
	s, err := e.slot(symbol)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.market.Orders(side), nil
}
