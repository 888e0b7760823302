package money

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
)

// Field names accepted by Convert.
const (
	FieldTicker = "ticker"
	FieldName   = "name"
)

// Currency is one row of the currency lookup table.
type Currency struct {
	Ticker string // e.g., "BTC"
	Name   string // e.g., "Bitcoin"
}

// Table resolves between a currency's display name and its ticker symbol.
// Rows are loaded at startup and may be replaced wholesale by a Refresher;
// lookups never touch the database.
type Table struct {
	logger *slog.Logger

	mu       sync.RWMutex
	byTicker map[string]Currency
	byName   map[string]Currency
}

// querier is the subset of pgxpool.Pool used to load the table.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// LoadTable reads the currencies table from the relational store and
// validates it.
func LoadTable(ctx context.Context, db querier, logger *slog.Logger) (*Table, error) {
	currencies, err := queryCurrencies(ctx, db)
	if err != nil {
		return nil, err
	}
	return NewTable(currencies, logger)
}

func queryCurrencies(ctx context.Context, db querier) ([]Currency, error) {
	rows, err := db.Query(ctx, `SELECT ticker, name FROM currencies`)
	if err != nil {
		return nil, fmt.Errorf("query currencies: %w", err)
	}
	defer rows.Close()

	var currencies []Currency
	for rows.Next() {
		var c Currency
		if err := rows.Scan(&c.Ticker, &c.Name); err != nil {
			return nil, fmt.Errorf("scan currency row: %w", err)
		}
		currencies = append(currencies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read currencies: %w", err)
	}
	return currencies, nil
}

// NewTable builds a Table from currency rows, validating them.
func NewTable(currencies []Currency, logger *slog.Logger) (*Table, error) {
	if logger == nil {
		logger = slog.Default()
	}
	byTicker, byName, err := index(currencies)
	if err != nil {
		return nil, err
	}
	return &Table{
		logger:   logger,
		byTicker: byTicker,
		byName:   byName,
	}, nil
}

// Replace swaps in a new set of currency rows. Lookups in flight keep
// seeing the old set; an invalid set leaves the table untouched.
func (t *Table) Replace(currencies []Currency) error {
	byTicker, byName, err := index(currencies)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.byTicker = byTicker
	t.byName = byName
	t.mu.Unlock()
	return nil
}

func index(currencies []Currency) (map[string]Currency, map[string]Currency, error) {
	if len(currencies) == 0 {
		return nil, nil, errors.New("currency table is empty")
	}

	byTicker := make(map[string]Currency, len(currencies))
	byName := make(map[string]Currency, len(currencies))
	for _, c := range currencies {
		if c.Ticker == "" || c.Name == "" {
			return nil, nil, fmt.Errorf("invalid currency row (ticker=%q, name=%q)", c.Ticker, c.Name)
		}
		tk := strings.ToUpper(c.Ticker)
		nm := strings.ToUpper(c.Name)
		if _, dup := byTicker[tk]; dup {
			return nil, nil, fmt.Errorf("duplicate currency ticker %q", c.Ticker)
		}
		if _, dup := byName[nm]; dup {
			return nil, nil, fmt.Errorf("duplicate currency name %q", c.Name)
		}
		byTicker[tk] = c
		byName[nm] = c
	}
	return byTicker, byName, nil
}

// Convert resolves a currency between its display name and ticker symbol.
// from and to are FieldTicker or FieldName; matching is case-insensitive.
// ok is false when no row matches; callers treat that as an unknown
// currency, never a crash.
func (t *Table) Convert(value, from, to string) (string, bool) {
	// Mirror of the legacy behavior: asking for name→name flips the
	// target to the ticker.
	if from == FieldName && to == FieldName {
		to = FieldTicker
	}

	var c Currency
	var found bool
	t.mu.RLock()
	switch from {
	case FieldTicker:
		c, found = t.byTicker[strings.ToUpper(value)]
	case FieldName:
		c, found = t.byName[strings.ToUpper(value)]
	}
	t.mu.RUnlock()
	if !found {
		t.logger.Warn("could not convert currency", "value", value, "from", from)
		return "", false
	}

	if to == FieldName {
		return c.Name, true
	}
	return c.Ticker, true
}

// Tickers returns every known ticker symbol.
func (t *Table) Tickers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.byTicker))
	for tk := range t.byTicker {
		out = append(out, tk)
	}
	return out
}
