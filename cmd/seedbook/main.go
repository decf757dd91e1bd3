// seedbook builds a market buffer offline: it claims seats for a handful of
// traders, funds them, and lays a ladder of resting orders around a chosen
// mid price, then saves the market so perpd starts with a populated book.
package main

import (
	"flag"
	"log"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/perpbook/perpbook/params"
	"github.com/perpbook/perpbook/pkg/engine"
	"github.com/perpbook/perpbook/pkg/storage"
	"github.com/perpbook/perpbook/pkg/util"
)

func main() {
	var (
		dataDir  = flag.String("data", "data", "data directory")
		symbol   = flag.String("symbol", "BTC-USDC", "market symbol")
		levels   = flag.Int("levels", 10, "price levels per side")
		midMant  = flag.Uint64("mid", 65_000_000_000, "mid price mantissa")
		midExpo  = flag.Int("expo", -6, "mid price exponent")
		sizeBase = flag.Uint64("size", 10_000_000, "base atoms per level")
		traders  = flag.Int("traders", 4, "number of seeded traders")
	)
	flag.Parse()

	logger, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	cfg := params.Default().Markets[0]
	cfg.Symbol = *symbol

	m, err := engine.CreateMarket(engine.Params{
		BaseMint:       common.BytesToHash([]byte(*symbol + ":base")),
		QuoteMint:      common.BytesToHash([]byte(*symbol + ":quote")),
		BaseDecimals:   cfg.BaseDecimals,
		QuoteDecimals:  cfg.QuoteDecimals,
		MaintenanceBps: cfg.MaintenanceBps,
		Blocks:         cfg.InitialBlocks,
	})
	if err != nil {
		logger.Fatal("create", zap.Error(err))
	}

	// One tick of ladder spacing: 0.1% of mid.
	tick := *midMant / 1000
	if tick == 0 {
		tick = 1
	}

	for i := 0; i < *traders; i++ {
		trader := common.BytesToHash([]byte{byte(i + 1)})
		if err := m.ClaimSeat(trader); err != nil {
			logger.Fatal("claim", zap.Error(err))
		}
		if err := m.Deposit(trader, true, *sizeBase*uint64(*levels)*2); err != nil {
			logger.Fatal("deposit_base", zap.Error(err))
		}
		if err := m.Deposit(trader, false, 1<<62); err != nil {
			logger.Fatal("deposit_quote", zap.Error(err))
		}
	}

	placed := 0
	for lvl := 1; lvl <= *levels; lvl++ {
		trader := common.BytesToHash([]byte{byte(placed%*traders + 1)})
		bid := normalizePrice(*midMant-uint64(lvl)*tick, int32(*midExpo))
		ask := normalizePrice(*midMant+uint64(lvl)*tick, int32(*midExpo))
		if _, err := m.PlaceOrder(engine.PlaceOrderParams{
			Trader: trader, Side: engine.Bid, BaseAtoms: *sizeBase, Price: bid, Type: engine.Limit,
		}); err != nil {
			logger.Fatal("place_bid", zap.Error(err))
		}
		if _, err := m.PlaceOrder(engine.PlaceOrderParams{
			Trader: trader, Side: engine.Ask, BaseAtoms: *sizeBase, Price: ask, Type: engine.Limit,
		}); err != nil {
			logger.Fatal("place_ask", zap.Error(err))
		}
		placed += 2
	}

	if err := m.CheckInvariants(); err != nil {
		logger.Fatal("invariants", zap.Error(err))
	}

	store, err := storage.Open(filepath.Join(*dataDir, "markets"))
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}
	defer store.Close()
	if err := store.SaveMarket(*symbol, m.Snapshot(), storage.MarketMeta{
		Symbol:        *symbol,
		BaseDecimals:  cfg.BaseDecimals,
		QuoteDecimals: cfg.QuoteDecimals,
		SavedAtUnix:   util.RealClock{}.Now().Unix(),
	}); err != nil {
		logger.Fatal("save", zap.Error(err))
	}

	logger.Info("seeded",
		zap.String("symbol", *symbol),
		zap.Int("orders", placed),
		zap.Uint32("free_blocks", m.FreeBlocks()))
}

// normalizePrice squeezes a u64 mantissa into the engine's 32-bit price
// mantissa by shifting the exponent.
func normalizePrice(mantissa uint64, exponent int32) engine.Price {
	for mantissa > 0xFFFF_FFFF {
		mantissa /= 10
		exponent++
	}
	return engine.Price{Mantissa: uint32(mantissa), Exponent: int8(exponent)}
}
