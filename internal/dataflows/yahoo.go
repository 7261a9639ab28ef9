package dataflows

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"
)

// YahooClient reads quotes and price history from Yahoo Finance.
type YahooClient struct {
	cache *Cache
}

func NewYahooClient(cacheDir string, cacheEnabled bool) *YahooClient {
	return &YahooClient{
		cache: NewCache(filepath.Join(cacheDir, "yahoo"), 24*time.Hour, cacheEnabled),
	}
}

// Quote fetches the current market snapshot for a symbol.
func (y *YahooClient) Quote(ctx context.Context, symbol string) (*Quote, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	var cached Quote
	if y.cache.Get("yahoo", "quote", symbol, &cached) {
		return &cached, nil
	}

	var out *Quote
	err := withRetry(ctx, func() error {
		q, err := quote.Get(symbol)
		if err != nil {
			return fmt.Errorf("quote for %s: %w", symbol, err)
		}
		if q == nil {
			return fmt.Errorf("quote for %s: no data", symbol)
		}
		out = &Quote{
			Symbol:        symbol,
			Price:         decimal.NewFromFloat(q.RegularMarketPrice),
			Open:          decimal.NewFromFloat(q.RegularMarketOpen),
			DayHigh:       decimal.NewFromFloat(q.RegularMarketDayHigh),
			DayLow:        decimal.NewFromFloat(q.RegularMarketDayLow),
			PreviousClose: decimal.NewFromFloat(q.RegularMarketPreviousClose),
			Volume:        int64(q.RegularMarketVolume),
			FetchedAt:     time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	y.cache.Set("yahoo", "quote", symbol, out)
	return out, nil
}

// History fetches daily candles between start and end.
func (y *YahooClient) History(ctx context.Context, symbol string, start, end time.Time) ([]Candle, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	params := map[string]string{
		"symbol": symbol,
		"start":  start.Format("2006-01-02"),
		"end":    end.Format("2006-01-02"),
	}
	var cached []Candle
	if y.cache.Get("yahoo", "history", params, &cached) {
		return cached, nil
	}

	var out []Candle
	err := withRetry(ctx, func() error {
		iter := chart.Get(&chart.Params{
			Symbol:   symbol,
			Start:    datetime.New(&start),
			End:      datetime.New(&end),
			Interval: datetime.OneDay,
		})

		out = out[:0]
		for iter.Next() {
			bar := iter.Bar()
			out = append(out, Candle{
				Symbol:   symbol,
				Date:     time.Unix(int64(bar.Timestamp), 0),
				Open:     bar.Open,
				High:     bar.High,
				Low:      bar.Low,
				Close:    bar.Close,
				AdjClose: bar.AdjClose,
				Volume:   int64(bar.Volume),
			})
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("history for %s: %w", symbol, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	y.cache.Set("yahoo", "history", params, out)
	return out, nil
}

// Window fetches the trailing N days of candles.
func (y *YahooClient) Window(ctx context.Context, symbol string, days int) ([]Candle, error) {
	end := time.Now()
	return y.History(ctx, symbol, end.AddDate(0, 0, -days), end)
}
