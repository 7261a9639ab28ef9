// Package dataflows fetches the market context agents reason over: quotes,
// candles, company news, insider activity and fundamentals. Every fetch is
// cached on disk so repeated runs against the same ticker stay cheap.
package dataflows

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one bar of price history.
type Candle struct {
	Symbol   string          `json:"symbol"`
	Date     time.Time       `json:"date"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	AdjClose decimal.Decimal `json:"adj_close"`
	Volume   int64           `json:"volume"`
}

// Quote is a point-in-time market snapshot.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Open          decimal.Decimal `json:"open"`
	DayHigh       decimal.Decimal `json:"day_high"`
	DayLow        decimal.Decimal `json:"day_low"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Volume        int64           `json:"volume"`
	FetchedAt     time.Time       `json:"fetched_at"`
}

// NewsArticle is a normalized article from any news source.
type NewsArticle struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// InsiderSentiment is Finnhub's monthly aggregate of insider activity.
type InsiderSentiment struct {
	Symbol string          `json:"symbol"`
	Year   int             `json:"year"`
	Month  int             `json:"month"`
	Change int64           `json:"change"`
	MSPR   decimal.Decimal `json:"mspr"`
}

// Fundamentals is the subset of company metrics the fundamentals analyst
// reasons over.
type Fundamentals struct {
	Symbol      string             `json:"symbol"`
	Name        string             `json:"name"`
	Industry    string             `json:"industry"`
	MarketCap   decimal.Decimal    `json:"market_cap"`
	Metrics     map[string]float64 `json:"metrics"`
	RetrievedAt time.Time          `json:"retrieved_at"`
}

// NormalizeSymbol uppercases and trims a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.TrimSpace(strings.ToUpper(symbol))
}

// ValidateSymbol rejects empty or implausibly long tickers before any
// network call is made with them.
func ValidateSymbol(symbol string) error {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if len(symbol) > 10 {
		return fmt.Errorf("symbol too long: %s", symbol)
	}
	return nil
}
