package dataflows

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

// FinnhubClient wraps the Finnhub REST API for news, insider sentiment and
// company fundamentals.
type FinnhubClient struct {
	client *resty.Client
	cache  *Cache
	apiKey string
}

func NewFinnhubClient(apiKey, cacheDir string, cacheEnabled bool) *FinnhubClient {
	client := resty.New()
	client.SetBaseURL(finnhubBaseURL)
	client.SetTimeout(30 * time.Second)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(time.Second)

	return &FinnhubClient{
		client: client,
		cache:  NewCache(filepath.Join(cacheDir, "finnhub"), 6*time.Hour, cacheEnabled),
		apiKey: apiKey,
	}
}

// SetBaseURL overrides the API endpoint, for tests.
func (f *FinnhubClient) SetBaseURL(url string) {
	f.client.SetBaseURL(url)
}

type finnhubNews struct {
	Category string `json:"category"`
	DateTime int64  `json:"datetime"`
	Headline string `json:"headline"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

// CompanyNews fetches articles about a company in a date window.
func (f *FinnhubClient) CompanyNews(ctx context.Context, symbol string, from, to time.Time) ([]NewsArticle, error) {
	if f.apiKey == "" {
		return nil, fmt.Errorf("finnhub api key not configured")
	}
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	params := map[string]string{
		"symbol": symbol,
		"from":   from.Format("2006-01-02"),
		"to":     to.Format("2006-01-02"),
	}

	var cached []NewsArticle
	if f.cache.Get("finnhub", "company_news", params, &cached) {
		return cached, nil
	}

	body, err := f.get(ctx, "/company-news", params)
	if err != nil {
		return nil, fmt.Errorf("fetching news for %s: %w", symbol, err)
	}

	var raw []finnhubNews
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing news response: %w", err)
	}

	articles := make([]NewsArticle, 0, len(raw))
	for _, n := range raw {
		articles = append(articles, NewsArticle{
			Title:       n.Headline,
			Summary:     n.Summary,
			URL:         n.URL,
			Source:      n.Source,
			PublishedAt: time.Unix(n.DateTime, 0),
		})
	}

	f.cache.Set("finnhub", "company_news", params, articles)
	return articles, nil
}

type finnhubSentiment struct {
	Data []struct {
		Symbol string  `json:"symbol"`
		Year   int     `json:"year"`
		Month  int     `json:"month"`
		Change float64 `json:"change"`
		MSPR   float64 `json:"mspr"`
	} `json:"data"`
}

// InsiderSentiment fetches the monthly insider sentiment aggregates.
func (f *FinnhubClient) InsiderSentiment(ctx context.Context, symbol string, from, to time.Time) ([]InsiderSentiment, error) {
	if f.apiKey == "" {
		return nil, fmt.Errorf("finnhub api key not configured")
	}
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	params := map[string]string{
		"symbol": symbol,
		"from":   from.Format("2006-01-02"),
		"to":     to.Format("2006-01-02"),
	}

	var cached []InsiderSentiment
	if f.cache.Get("finnhub", "insider_sentiment", params, &cached) {
		return cached, nil
	}

	body, err := f.get(ctx, "/stock/insider-sentiment", params)
	if err != nil {
		return nil, fmt.Errorf("fetching insider sentiment for %s: %w", symbol, err)
	}

	var raw finnhubSentiment
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing insider sentiment: %w", err)
	}

	out := make([]InsiderSentiment, 0, len(raw.Data))
	for _, d := range raw.Data {
		out = append(out, InsiderSentiment{
			Symbol: d.Symbol,
			Year:   d.Year,
			Month:  d.Month,
			Change: int64(d.Change),
			MSPR:   decimal.NewFromFloat(d.MSPR),
		})
	}

	f.cache.Set("finnhub", "insider_sentiment", params, out)
	return out, nil
}

type finnhubProfile struct {
	Name                 string  `json:"name"`
	FinnhubIndustry      string  `json:"finnhubIndustry"`
	MarketCapitalization float64 `json:"marketCapitalization"`
}

type finnhubMetrics struct {
	Metric map[string]any `json:"metric"`
}

// Fundamentals combines the company profile with its basic financial
// metrics.
func (f *FinnhubClient) Fundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	if f.apiKey == "" {
		return nil, fmt.Errorf("finnhub api key not configured")
	}
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	params := map[string]string{"symbol": symbol}

	var cached Fundamentals
	if f.cache.Get("finnhub", "fundamentals", params, &cached) {
		return &cached, nil
	}

	profileBody, err := f.get(ctx, "/stock/profile2", params)
	if err != nil {
		return nil, fmt.Errorf("fetching profile for %s: %w", symbol, err)
	}
	var profile finnhubProfile
	if err := json.Unmarshal(profileBody, &profile); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}

	metricsBody, err := f.get(ctx, "/stock/metric", map[string]string{
		"symbol": symbol,
		"metric": "all",
	})
	if err != nil {
		return nil, fmt.Errorf("fetching metrics for %s: %w", symbol, err)
	}
	var metrics finnhubMetrics
	if err := json.Unmarshal(metricsBody, &metrics); err != nil {
		return nil, fmt.Errorf("parsing metrics: %w", err)
	}

	out := &Fundamentals{
		Symbol:      symbol,
		Name:        profile.Name,
		Industry:    profile.FinnhubIndustry,
		MarketCap:   decimal.NewFromFloat(profile.MarketCapitalization),
		Metrics:     map[string]float64{},
		RetrievedAt: time.Now().UTC(),
	}
	for k, v := range metrics.Metric {
		if n, ok := v.(float64); ok {
			out.Metrics[k] = n
		}
	}

	f.cache.Set("finnhub", "fundamentals", params, out)
	return out, nil
}

func (f *FinnhubClient) get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetQueryParam("token", f.apiKey).
		Get(path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("finnhub status %d: %s", resp.StatusCode(), resp.String())
	}
	return resp.Body(), nil
}
