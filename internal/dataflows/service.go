package dataflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Service aggregates the individual data clients into the per-analyst
// context blocks that get embedded into prompts. When online tools are
// disabled every method returns a short placeholder so agents can still
// reason from the model's own knowledge.
type Service struct {
	yahoo   *YahooClient
	finnhub *FinnhubClient
	scraper *NewsScraper
	online  bool
}

func NewService(finnhubKey, cacheDir string, cacheEnabled, online bool) *Service {
	return &Service{
		yahoo:   NewYahooClient(cacheDir, cacheEnabled),
		finnhub: NewFinnhubClient(finnhubKey, cacheDir, cacheEnabled),
		scraper: NewNewsScraper(cacheDir, cacheEnabled),
		online:  online,
	}
}

const offlineNote = "Live market data is disabled; reason from general knowledge of the company."

// MarketContext renders the current quote and a month of price history.
// Quote and history are fetched concurrently.
func (s *Service) MarketContext(ctx context.Context, symbol string) (string, error) {
	if !s.online {
		return offlineNote, nil
	}

	var (
		q       *Quote
		candles []Candle
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		q, err = s.yahoo.Quote(gctx, symbol)
		return err
	})
	g.Go(func() error {
		var err error
		candles, err = s.yahoo.Window(gctx, symbol, 30)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("market data fetch failed: %w", err)
	}
	return renderMarketContext(q, candles), nil
}

func renderMarketContext(q *Quote, candles []Candle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current quote for %s: price %s, open %s, day range %s-%s, previous close %s, volume %d.\n",
		q.Symbol, q.Price, q.Open, q.DayLow, q.DayHigh, q.PreviousClose, q.Volume)
	if len(candles) > 0 {
		first, last := candles[0], candles[len(candles)-1]
		fmt.Fprintf(&b, "Last %d sessions: %s closed %s, latest close %s.\n",
			len(candles), first.Date.Format("2006-01-02"), first.Close, last.Close)
		b.WriteString("Recent daily closes:\n")
		start := len(candles) - 10
		if start < 0 {
			start = 0
		}
		for _, c := range candles[start:] {
			fmt.Fprintf(&b, "  %s  close %s  volume %d\n", c.Date.Format("2006-01-02"), c.Close, c.Volume)
		}
	}
	return b.String()
}

// NewsContext renders recent company news from Finnhub plus scraped
// headlines. Either source failing degrades the block instead of erroring:
// missing news is survivable, the analyst notes the gap.
func (s *Service) NewsContext(ctx context.Context, symbol string) (string, error) {
	if !s.online {
		return offlineNote, nil
	}

	var (
		company  []NewsArticle
		scraped  []NewsArticle
		fetchErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		to := time.Now()
		articles, err := s.finnhub.CompanyNews(gctx, symbol, to.AddDate(0, 0, -7), to)
		if err != nil {
			fetchErr = err
			return nil
		}
		company = articles
		return nil
	})
	g.Go(func() error {
		articles, err := s.scraper.Search(gctx, symbol+" stock", 10)
		if err != nil {
			return nil
		}
		scraped = articles
		return nil
	})
	_ = g.Wait()

	if len(company) == 0 && len(scraped) == 0 {
		if fetchErr != nil {
			return "", fmt.Errorf("news fetch failed: %w", fetchErr)
		}
		return fmt.Sprintf("No recent news found for %s.", NormalizeSymbol(symbol)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recent news for %s:\n", NormalizeSymbol(symbol))
	for _, a := range limitArticles(company, 10) {
		fmt.Fprintf(&b, "- [%s] %s", a.Source, a.Title)
		if a.Summary != "" {
			fmt.Fprintf(&b, ": %s", a.Summary)
		}
		b.WriteString("\n")
	}
	for _, a := range limitArticles(scraped, 5) {
		fmt.Fprintf(&b, "- [%s] %s\n", a.Source, a.Title)
	}
	return b.String(), nil
}

// SentimentContext renders three months of insider sentiment.
func (s *Service) SentimentContext(ctx context.Context, symbol string) (string, error) {
	if !s.online {
		return offlineNote, nil
	}

	to := time.Now()
	sentiments, err := s.finnhub.InsiderSentiment(ctx, symbol, to.AddDate(0, -3, 0), to)
	if err != nil {
		return "", fmt.Errorf("sentiment fetch failed: %w", err)
	}
	if len(sentiments) == 0 {
		return fmt.Sprintf("No insider sentiment data for %s.", NormalizeSymbol(symbol)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Insider sentiment for %s (monthly share purchase ratio):\n", NormalizeSymbol(symbol))
	for _, s := range sentiments {
		fmt.Fprintf(&b, "  %04d-%02d  net change %d  mspr %s\n", s.Year, s.Month, s.Change, s.MSPR)
	}
	return b.String(), nil
}

// FundamentalsContext renders the company profile and key metrics.
func (s *Service) FundamentalsContext(ctx context.Context, symbol string) (string, error) {
	if !s.online {
		return offlineNote, nil
	}

	f, err := s.finnhub.Fundamentals(ctx, symbol)
	if err != nil {
		return "", fmt.Errorf("fundamentals fetch failed: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s), industry %s, market cap %sM.\n", f.Name, f.Symbol, f.Industry, f.MarketCap)
	for _, key := range []string{
		"peNormalizedAnnual", "pb", "psAnnual", "epsAnnual",
		"revenueGrowthTTMYoy", "grossMarginTTM", "netProfitMarginTTM",
		"52WeekHigh", "52WeekLow", "beta",
	} {
		if v, ok := f.Metrics[key]; ok {
			fmt.Fprintf(&b, "  %s: %.2f\n", key, v)
		}
	}
	return b.String(), nil
}

func limitArticles(articles []NewsArticle, n int) []NewsArticle {
	if len(articles) > n {
		return articles[:n]
	}
	return articles
}
