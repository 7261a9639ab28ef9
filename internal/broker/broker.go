package broker

import (
	"context"
	"errors"
	"strings"
	"time"

	lpconfig "github.com/longportapp/openapi-go/config"
	"github.com/longportapp/openapi-go/quote"
	"github.com/longportapp/openapi-go/trade"
	"github.com/shopspring/decimal"

	"github.com/tradecrew-ai/tradecrew/internal/config"
)

// Account is a read-only snapshot of one currency account.
type Account struct {
	Currency  string
	TotalCash decimal.Decimal
	NetAssets decimal.Decimal
}

// Position is a read-only view of one holding.
type Position struct {
	Symbol    string
	Name      string
	Quantity  decimal.Decimal
	CostPrice decimal.Decimal
	Currency  string
}

// Candle is one daily bar from the broker feed.
type Candle struct {
	Date   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// Reader is the account surface the portfolio manager consumes. The
// broker never places orders, it only answers what is held and what
// cash is free.
type Reader interface {
	Accounts(ctx context.Context) ([]Account, error)
	Positions(ctx context.Context, symbols []string) ([]Position, error)
}

// Client wraps the Longport OpenAPI trade and quote contexts.
type Client struct {
	tradeCtx *trade.TradeContext
	quoteCtx *quote.QuoteContext
}

var _ Reader = (*Client)(nil)

func NewClient(cfg *config.Config) (*Client, error) {
	if cfg.LongportAppKey == "" || cfg.LongportAppSecret == "" || cfg.LongportAccessToken == "" {
		return nil, errors.New("longport API credentials not configured")
	}

	conf, err := lpconfig.New(lpconfig.WithConfigKey(cfg.LongportAppKey, cfg.LongportAppSecret, cfg.LongportAccessToken))
	if err != nil {
		return nil, err
	}

	tradeContext, err := trade.NewFromCfg(conf)
	if err != nil {
		return nil, err
	}

	quoteContext, err := quote.NewFromCfg(conf)
	if err != nil {
		return nil, err
	}

	return &Client{tradeCtx: tradeContext, quoteCtx: quoteContext}, nil
}

// Accounts returns the cash balance per currency account.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	if c.tradeCtx == nil {
		return nil, errors.New("trade context is nil")
	}

	balances, err := c.tradeCtx.AccountBalance(ctx, &trade.GetAccountBalance{})
	if err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(balances))
	for _, b := range balances {
		accounts = append(accounts, Account{
			Currency:  b.Currency,
			TotalCash: deref(b.TotalCash),
			NetAssets: deref(b.NetAssets),
		})
	}
	return accounts, nil
}

// Positions returns current holdings, optionally filtered to symbols.
func (c *Client) Positions(ctx context.Context, symbols []string) ([]Position, error) {
	if c.tradeCtx == nil {
		return nil, errors.New("trade context is nil")
	}

	channels, err := c.tradeCtx.StockPositions(ctx, symbols)
	if err != nil {
		return nil, err
	}

	var positions []Position
	for _, ch := range channels {
		for _, p := range ch.Positions {
			positions = append(positions, Position{
				Symbol:    p.Symbol,
				Name:      p.SymbolName,
				Quantity:  parseQuantity(p.Quantity),
				CostPrice: deref(p.CostPrice),
				Currency:  p.Currency,
			})
		}
	}
	return positions, nil
}

// parseQuantity reads the share count the trade API reports as a string.
// An unparsable count is treated as zero so one bad row cannot take the
// whole account snapshot down.
func parseQuantity(s string) decimal.Decimal {
	q, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return q
}

// DailyCandles fetches the last count daily bars for a symbol.
func (c *Client) DailyCandles(ctx context.Context, symbol string, count int) ([]Candle, error) {
	if c.quoteCtx == nil {
		return nil, errors.New("quote context is nil")
	}

	sticks, err := c.quoteCtx.Candlesticks(ctx, symbol, quote.PeriodDay, int32(count), quote.AdjustTypeNo)
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(sticks))
	for _, s := range sticks {
		candles = append(candles, Candle{
			Date:   time.Unix(s.Timestamp, 0),
			Open:   deref(s.Open),
			High:   deref(s.High),
			Low:    deref(s.Low),
			Close:  deref(s.Close),
			Volume: s.Volume,
		})
	}
	return candles, nil
}

func deref(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
