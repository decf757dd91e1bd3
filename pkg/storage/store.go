package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"

	"github.com/perpbook/perpbook/pkg/engine"
)

// Store persists whole market buffers in Pebble. The buffer is the
// engine's native serialized form, so save/load is a straight byte copy;
// only the metadata envelope is JSON.
type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// MarketMeta is the descriptive envelope stored next to each buffer.
type MarketMeta struct {
	Symbol        string `json:"symbol"`
	BaseDecimals  uint8  `json:"base_decimals"`
	QuoteDecimals uint8  `json:"quote_decimals"`
	SavedAtUnix   int64  `json:"saved_at_unix"`
}

// keys: m:<symbol> market buffer, mm:<symbol> metadata, f:<symbol>:<seq> fills
func kMarket(symbol string) []byte { return []byte("m:" + symbol) }
func kMeta(symbol string) []byte { return []byte("mm:" + symbol) }
func kFill(symbol string, n uint64) []byte {
	return []byte(fmt.Sprintf("f:%s:%020d", symbol, n))
}

// SaveMarket writes the buffer and its metadata atomically.
func (s *Store) SaveMarket(symbol string, buf []byte, meta MarketMeta) error {
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta %s: %w", symbol, err)
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(kMarket(symbol), buf, nil); err != nil {
		return err
	}
	if err := batch.Set(kMeta(symbol), metaBytes, nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit market %s: %w", symbol, err)
	}
	return nil
}

// LoadMarket reads a buffer back and hands it to the engine. Returns
// (nil, nil) when the market has never been saved.
func (s *Store) LoadMarket(symbol string) (*engine.Market, error) {
	val, closer, err := s.db.Get(kMarket(symbol))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("load market %s: %w", symbol, err)
	}
	buf := append([]byte(nil), val...)
	closer.Close()
	m, err := engine.LoadMarket(buf)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", symbol, err)
	}
	return m, nil
}

// ListMarkets returns the metadata of every saved market.
func (s *Store) ListMarkets() ([]MarketMeta, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("mm:"),
		UpperBound: []byte("mm;"), // ';' is ':'+1
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []MarketMeta
	for iter.First(); iter.Valid(); iter.Next() {
		var meta MarketMeta
		if err := json.Unmarshal(iter.Value(), &meta); err != nil {
			return nil, fmt.Errorf("meta %s: %w", iter.Key(), err)
		}
		out = append(out, meta)
	}
	return out, iter.Error()
}

// FillRecord is the persisted form of one fill, keyed by its symbol plus
// the per-market fill counter passed to AppendFill so records never collide.
type FillRecord struct {
	Symbol     string `json:"symbol"`
	Maker      string `json:"maker"`
	Taker      string `json:"taker"`
	PriceMant  uint32 `json:"price_mantissa"`
	PriceExpo  int8   `json:"price_exponent"`
	BaseAtoms  uint64 `json:"base_atoms"`
	QuoteAtoms uint64 `json:"quote_atoms"`
	TakerSide  string `json:"taker_side"`
	Unix       int64  `json:"unix"`
}

// AppendFill writes one fill record under a monotonically increasing key.
func (s *Store) AppendFill(n uint64, rec FillRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Set(kFill(rec.Symbol, n), val, pebble.NoSync)
}

// Fills returns up to limit fill records for a symbol, oldest first, starting
// from the oldest stored record; when more than limit exist, the newest are
// not returned.
func (s *Store) Fills(symbol string, limit int) ([]FillRecord, error) {
	prefix := "f:" + symbol + ":"
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte("f:" + symbol + ";"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []FillRecord
	for iter.First(); iter.Valid() && len(out) < limit; iter.Next() {
		if !strings.HasPrefix(string(iter.Key()), prefix) {
			break
		}
		var rec FillRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}
