// Package data loads historical bars from local files and generates
// deterministic synthetic data when no file exists. All timestamps are
// normalized to UTC time.Time once at ingestion.
package data

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-gate/pkg/types"
)

// barRow is the on-disk row shape shared by the JSON and Parquet
// formats. Timestamps are unix milliseconds.
type barRow struct {
	Timestamp int64   `json:"t" parquet:"t"`
	Open      float64 `json:"o" parquet:"o"`
	High      float64 `json:"h" parquet:"h"`
	Low       float64 `json:"l" parquet:"l"`
	Close     float64 `json:"c" parquet:"c"`
	Volume    float64 `json:"v" parquet:"v"`
}

// Store provides per-symbol bar access backed by local files with a
// synthetic fallback.
type Store struct {
	config types.DataConfig
	logger *zap.Logger
}

// NewStore creates a bar store.
func NewStore(config types.DataConfig, logger *zap.Logger) *Store {
	return &Store{
		config: config,
		logger: logger,
	}
}

// Load returns bars for every symbol, ascending and deduplicated by
// timestamp. Symbols without a data file fall back to a deterministic
// synthetic series over the requested range.
func (s *Store) Load(symbols []string, start, end time.Time) (map[string][]types.PriceBar, error) {
	out := make(map[string][]types.PriceBar, len(symbols))
	for _, sym := range symbols {
		bars, err := s.loadSymbol(sym)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", sym, err)
		}
		if bars == nil {
			bars = s.Synthetic(sym, start, end)
			s.logger.Debug("no data file, using synthetic bars",
				zap.String("symbol", sym),
				zap.Int("bars", len(bars)))
		}
		out[sym] = filterRange(bars, start, end)
	}
	return out, nil
}

// loadSymbol reads the symbol's file, preferring Parquet over JSON.
// A missing file returns nil bars and no error.
func (s *Store) loadSymbol(symbol string) ([]types.PriceBar, error) {
	base := filepath.Join(s.config.DataDir, fmt.Sprintf("%s_%s", symbol, s.config.Timeframe))

	if rows, err := s.readParquet(base + ".parquet"); err != nil {
		return nil, err
	} else if rows != nil {
		return normalize(rows), nil
	}

	if rows, err := s.readJSON(base + ".json"); err != nil {
		return nil, err
	} else if rows != nil {
		return normalize(rows), nil
	}

	return nil, nil
}

func (s *Store) readParquet(path string) ([]barRow, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	rows, err := parquet.ReadFile[barRow](path)
	if err != nil {
		return nil, fmt.Errorf("reading parquet %s: %w", path, err)
	}
	return rows, nil
}

func (s *Store) readJSON(path string) ([]barRow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rows []barRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return rows, nil
}

// SaveParquet writes bars for a symbol in the store's Parquet layout.
func (s *Store) SaveParquet(symbol string, bars []types.PriceBar) error {
	if err := os.MkdirAll(s.config.DataDir, 0o755); err != nil {
		return err
	}
	rows := make([]barRow, len(bars))
	for i, b := range bars {
		o, _ := b.Open.Float64()
		h, _ := b.High.Float64()
		l, _ := b.Low.Float64()
		c, _ := b.Close.Float64()
		v, _ := b.Volume.Float64()
		rows[i] = barRow{
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      o, High: h, Low: l, Close: c, Volume: v,
		}
	}
	path := filepath.Join(s.config.DataDir,
		fmt.Sprintf("%s_%s.parquet", symbol, s.config.Timeframe))
	return parquet.WriteFile(path, rows)
}

// SaveJSON writes bars for a symbol in the store's JSON layout.
func (s *Store) SaveJSON(symbol string, bars []types.PriceBar) error {
	if err := os.MkdirAll(s.config.DataDir, 0o755); err != nil {
		return err
	}
	rows := make([]barRow, len(bars))
	for i, b := range bars {
		o, _ := b.Open.Float64()
		h, _ := b.High.Float64()
		l, _ := b.Low.Float64()
		c, _ := b.Close.Float64()
		v, _ := b.Volume.Float64()
		rows[i] = barRow{
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      o, High: h, Low: l, Close: c, Volume: v,
		}
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	path := filepath.Join(s.config.DataDir,
		fmt.Sprintf("%s_%s.json", symbol, s.config.Timeframe))
	return os.WriteFile(path, raw, 0o644)
}

// Synthetic generates a deterministic daily random walk for the range.
// The seed mixes the store seed with the symbol so each symbol gets a
// stable but distinct series.
func (s *Store) Synthetic(symbol string, start, end time.Time) []types.PriceBar {
	seed := s.config.SyntheticSeed
	for _, r := range symbol {
		seed = seed*31 + int64(r)
	}
	rng := rand.New(rand.NewSource(seed))

	price := 50 + rng.Float64()*150
	var bars []types.PriceBar
	for ts := start.UTC().Truncate(24 * time.Hour); !ts.After(end); ts = ts.AddDate(0, 0, 1) {
		drift := 0.0002
		vol := 0.015
		price *= 1 + drift + vol*rng.NormFloat64()
		if price < 1 {
			price = 1
		}
		open := price * (1 - 0.003*rng.Float64())
		high := math.Max(open, price) * (1 + 0.005*rng.Float64())
		low := math.Min(open, price) * (1 - 0.005*rng.Float64())
		bars = append(bars, types.PriceBar{
			Timestamp: ts,
			Open:      decimal.NewFromFloat(open).Round(4),
			High:      decimal.NewFromFloat(high).Round(4),
			Low:       decimal.NewFromFloat(low).Round(4),
			Close:     decimal.NewFromFloat(price).Round(4),
			Volume:    decimal.NewFromInt(int64(1e5 + rng.Intn(1e6))),
		})
	}
	return bars
}

// normalize converts raw rows to PriceBars: UTC timestamps, ascending
// order, duplicate timestamps dropped (first wins).
func normalize(rows []barRow) []types.PriceBar {
	sort.SliceStable(rows, func(a, b int) bool {
		return rows[a].Timestamp < rows[b].Timestamp
	})
	bars := make([]types.PriceBar, 0, len(rows))
	var lastTS int64 = math.MinInt64
	for _, r := range rows {
		if r.Timestamp == lastTS {
			continue
		}
		lastTS = r.Timestamp
		bars = append(bars, types.PriceBar{
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
			Open:      decimal.NewFromFloat(r.Open),
			High:      decimal.NewFromFloat(r.High),
			Low:       decimal.NewFromFloat(r.Low),
			Close:     decimal.NewFromFloat(r.Close),
			Volume:    decimal.NewFromFloat(r.Volume),
		})
	}
	return bars
}

func filterRange(bars []types.PriceBar, start, end time.Time) []types.PriceBar {
	if start.IsZero() && end.IsZero() {
		return bars
	}
	var out []types.PriceBar
	for _, b := range bars {
		if !start.IsZero() && b.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}
