package dataflows

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSymbol(t *testing.T) {
	assert.NoError(t, ValidateSymbol("aapl"))
	assert.NoError(t, ValidateSymbol(" NVDA "))
	assert.Error(t, ValidateSymbol(""))
	assert.Error(t, ValidateSymbol("TOOLONGSYMBOL"))
}

func TestRenderMarketContext(t *testing.T) {
	q := &Quote{
		Symbol:        "NVDA",
		Price:         decimal.NewFromFloat(120.5),
		Open:          decimal.NewFromFloat(118),
		DayHigh:       decimal.NewFromFloat(121),
		DayLow:        decimal.NewFromFloat(117.2),
		PreviousClose: decimal.NewFromFloat(119),
		Volume:        1_000_000,
		FetchedAt:     time.Now(),
	}
	candles := []Candle{
		{Symbol: "NVDA", Date: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), Close: decimal.NewFromFloat(118.1), Volume: 900_000},
		{Symbol: "NVDA", Date: time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC), Close: decimal.NewFromFloat(120.5), Volume: 1_100_000},
	}

	text := renderMarketContext(q, candles)
	assert.Contains(t, text, "Current quote for NVDA: price 120.5")
	assert.Contains(t, text, "day range 117.2-121")
	assert.Contains(t, text, "Last 2 sessions: 2026-08-24 closed 118.1, latest close 120.5.")
	assert.Contains(t, text, "2026-08-25  close 120.5  volume 1100000")
}

func TestCacheRoundTrip(t *testing.T) {
	c := NewCache(t.TempDir(), time.Hour, true)

	in := []NewsArticle{{Title: "headline", Source: "test"}}
	c.Set("finnhub", "company_news", map[string]string{"symbol": "XYZ"}, in)

	var out []NewsArticle
	require.True(t, c.Get("finnhub", "company_news", map[string]string{"symbol": "XYZ"}, &out))
	assert.Equal(t, in, out)

	// Different params miss.
	assert.False(t, c.Get("finnhub", "company_news", map[string]string{"symbol": "ABC"}, &out))
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(t.TempDir(), time.Nanosecond, true)
	c.Set("yahoo", "quote", "XYZ", Quote{Symbol: "XYZ"})
	time.Sleep(10 * time.Millisecond)

	var out Quote
	assert.False(t, c.Get("yahoo", "quote", "XYZ", &out))
}

func TestCacheDisabled(t *testing.T) {
	c := NewCache(t.TempDir(), time.Hour, false)
	c.Set("yahoo", "quote", "XYZ", Quote{Symbol: "XYZ"})

	var out Quote
	assert.False(t, c.Get("yahoo", "quote", "XYZ", &out))
}

func TestFinnhubCompanyNews(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/company-news", r.URL.Path)
		require.Equal(t, "XYZ", r.URL.Query().Get("symbol"))
		require.Equal(t, "test-key", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"headline": "XYZ beats estimates", "summary": "strong quarter", "source": "wire", "datetime": 1724630400, "url": "https://example.com/1"}
		]`))
	}))
	defer srv.Close()

	f := NewFinnhubClient("test-key", t.TempDir(), false)
	f.SetBaseURL(srv.URL)

	articles, err := f.CompanyNews(context.Background(), "xyz", time.Now().AddDate(0, 0, -7), time.Now())
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "XYZ beats estimates", articles[0].Title)
	assert.Equal(t, "wire", articles[0].Source)
}

func TestFinnhubRequiresAPIKey(t *testing.T) {
	f := NewFinnhubClient("", t.TempDir(), false)
	_, err := f.CompanyNews(context.Background(), "XYZ", time.Now(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")
}

const newsHTML = `
<html><body>
<article>
  <a href="./read/abc?url=https%3A%2F%2Fexample.com%2Fstory"></a>
  <h3>Chipmaker rallies on guidance</h3>
  <div data-n-tid="9">Example Wire</div>
  <time>3 hours ago</time>
</article>
<article>
  <a href="/read/def"></a>
  <h4>Analysts split on valuation</h4>
  <time>2 days ago</time>
</article>
<article><span>no title, skipped</span></article>
</body></html>`

func TestParseArticles(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(newsHTML))
	require.NoError(t, err)

	articles := parseArticles(doc)
	require.Len(t, articles, 2)

	assert.Equal(t, "Chipmaker rallies on guidance", articles[0].Title)
	assert.Equal(t, "https://example.com/story", articles[0].URL)
	assert.Equal(t, "Example Wire", articles[0].Source)

	assert.Equal(t, "Analysts split on valuation", articles[1].Title)
	assert.Equal(t, "https://news.google.com/read/def", articles[1].URL)
	assert.Equal(t, "Google News", articles[1].Source)
}

func TestScraperSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "XYZ stock", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(newsHTML))
	}))
	defer srv.Close()

	s := NewNewsScraper(t.TempDir(), false)
	s.SetBaseURL(srv.URL)

	articles, err := s.Search(context.Background(), "XYZ stock", 1)
	require.NoError(t, err)
	require.Len(t, articles, 1, "maxResults caps the output")
}

func TestParseRelativeTime(t *testing.T) {
	now := time.Now()

	got := parseRelativeTime("45 minutes ago")
	assert.WithinDuration(t, now.Add(-45*time.Minute), got, 5*time.Second)

	got = parseRelativeTime("3 hours ago")
	assert.WithinDuration(t, now.Add(-3*time.Hour), got, 5*time.Second)

	got = parseRelativeTime("gibberish")
	assert.WithinDuration(t, now, got, 5*time.Second)
}

func TestOfflineServiceReturnsPlaceholders(t *testing.T) {
	s := NewService("", t.TempDir(), false, false)

	for _, fn := range []func(context.Context, string) (string, error){
		s.MarketContext, s.NewsContext, s.SentimentContext, s.FundamentalsContext,
	} {
		text, err := fn(context.Background(), "XYZ")
		require.NoError(t, err)
		assert.Equal(t, offlineNote, text)
	}
}
