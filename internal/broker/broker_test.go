package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecrew-ai/tradecrew/internal/config"
)

type fakeReader struct {
	accounts  []Account
	positions []Position
	err       error
}

func (f *fakeReader) Accounts(context.Context) ([]Account, error) {
	return f.accounts, f.err
}

func (f *fakeReader) Positions(context.Context, []string) ([]Position, error) {
	return f.positions, f.err
}

func TestNewClientRequiresCredentials(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LongportAppKey = ""

	_, err := NewClient(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
}

func TestPortfolioContextRendersHolding(t *testing.T) {
	r := &fakeReader{
		accounts: []Account{{
			Currency:  "USD",
			TotalCash: decimal.NewFromInt(25000),
			NetAssets: decimal.NewFromInt(40000),
		}},
		positions: []Position{{
			Symbol:    "NVDA.US",
			Name:      "NVIDIA",
			Quantity:  decimal.NewFromInt(50),
			CostPrice: decimal.NewFromFloat(118.40),
			Currency:  "USD",
		}},
	}

	text := PortfolioContext(context.Background(), r, "NVDA")
	assert.Contains(t, text, "USD: cash 25000.00")
	assert.Contains(t, text, "NVDA.US (NVIDIA): 50 @ 118.40 USD")
	assert.Contains(t, text, "already held")
}

func TestPortfolioContextFlatBook(t *testing.T) {
	r := &fakeReader{
		accounts: []Account{{Currency: "USD", TotalCash: decimal.NewFromInt(10000)}},
	}

	text := PortfolioContext(context.Background(), r, "AAPL")
	assert.Contains(t, text, "- none")
	assert.Contains(t, text, "No existing position in AAPL")
}

func TestPortfolioContextDegradesOnBrokerError(t *testing.T) {
	r := &fakeReader{err: errors.New("gateway timeout")}
	assert.Equal(t, unavailableNote, PortfolioContext(context.Background(), r, "AAPL"))
	assert.Equal(t, unavailableNote, PortfolioContext(context.Background(), nil, "AAPL"))
}

func TestParseQuantity(t *testing.T) {
	assert.True(t, decimal.NewFromInt(50).Equal(parseQuantity("50")))
	assert.True(t, decimal.NewFromFloat(12.5).Equal(parseQuantity(" 12.5 ")))
	assert.True(t, decimal.Zero.Equal(parseQuantity("")))
	assert.True(t, decimal.Zero.Equal(parseQuantity("n/a")))
}

func TestBaseSymbol(t *testing.T) {
	assert.Equal(t, "NVDA", baseSymbol("NVDA.US"))
	assert.Equal(t, "700", baseSymbol("700.HK"))
	assert.Equal(t, "AAPL", baseSymbol("AAPL"))
}
