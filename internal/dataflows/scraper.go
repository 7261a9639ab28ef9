package dataflows

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// NewsScraper pulls headlines out of Google News search results. Markup
// drift is expected; parsing is best effort and a run never fails because
// a scrape came back empty.
type NewsScraper struct {
	client  *resty.Client
	cache   *Cache
	baseURL string
}

func NewNewsScraper(cacheDir string, cacheEnabled bool) *NewsScraper {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetHeader("User-Agent", "Mozilla/5.0 (compatible; tradecrew/1.0)")

	return &NewsScraper{
		client:  client,
		cache:   NewCache(filepath.Join(cacheDir, "news_scraper"), 2*time.Hour, cacheEnabled),
		baseURL: "https://news.google.com/search",
	}
}

// SetBaseURL overrides the search endpoint, for tests.
func (n *NewsScraper) SetBaseURL(url string) {
	n.baseURL = url
}

// Search scrapes up to maxResults articles matching the query.
func (n *NewsScraper) Search(ctx context.Context, query string, maxResults int) ([]NewsArticle, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if maxResults <= 0 {
		maxResults = 20
	}

	params := map[string]any{"query": query, "max": maxResults}
	var cached []NewsArticle
	if n.cache.Get("google_news", "search", params, &cached) {
		return cached, nil
	}

	searchURL := fmt.Sprintf("%s?q=%s&hl=en&gl=US&ceid=US:en", n.baseURL, url.QueryEscape(query))
	resp, err := n.client.R().SetContext(ctx).Get(searchURL)
	if err != nil {
		return nil, fmt.Errorf("fetching google news: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("google news status %d", resp.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
	if err != nil {
		return nil, fmt.Errorf("parsing google news html: %w", err)
	}

	articles := parseArticles(doc)
	if len(articles) > maxResults {
		articles = articles[:maxResults]
	}

	n.cache.Set("google_news", "search", params, articles)
	return articles, nil
}

func parseArticles(doc *goquery.Document) []NewsArticle {
	var articles []NewsArticle
	doc.Find("article").Each(func(_ int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Find("h3").Text())
		if title == "" {
			title = strings.TrimSpace(s.Find("h4").Text())
		}
		if title == "" {
			return
		}

		href, ok := s.Find("a").First().Attr("href")
		if !ok {
			return
		}

		source := strings.TrimSpace(s.Find("div[data-n-tid]").Text())
		if source == "" {
			source = "Google News"
		}

		articles = append(articles, NewsArticle{
			Title:       title,
			URL:         cleanNewsURL(href),
			Source:      source,
			PublishedAt: parseRelativeTime(strings.TrimSpace(s.Find("time").Text())),
		})
	})
	return articles
}

// cleanNewsURL unwraps the redirect Google places around article links.
func cleanNewsURL(raw string) string {
	if idx := strings.Index(raw, "url="); idx >= 0 {
		if decoded, err := url.QueryUnescape(raw[idx+4:]); err == nil {
			return decoded
		}
	}
	if strings.HasPrefix(raw, "./") {
		return "https://news.google.com" + raw[1:]
	}
	if strings.HasPrefix(raw, "/") {
		return "https://news.google.com" + raw
	}
	return raw
}

var (
	minutesAgo = regexp.MustCompile(`(\d+)\s*minutes?\s*ago`)
	hoursAgo   = regexp.MustCompile(`(\d+)\s*hours?\s*ago`)
	daysAgo    = regexp.MustCompile(`(\d+)\s*days?\s*ago`)
)

// parseRelativeTime converts Google's relative timestamps ("3 hours ago")
// into absolute times. Unparseable text resolves to now.
func parseRelativeTime(text string) time.Time {
	now := time.Now()
	text = strings.ToLower(strings.TrimSpace(text))

	if m := minutesAgo.FindStringSubmatch(text); len(m) > 1 {
		if v, err := strconv.Atoi(m[1]); err == nil {
			return now.Add(-time.Duration(v) * time.Minute)
		}
	}
	if m := hoursAgo.FindStringSubmatch(text); len(m) > 1 {
		if v, err := strconv.Atoi(m[1]); err == nil {
			return now.Add(-time.Duration(v) * time.Hour)
		}
	}
	if m := daysAgo.FindStringSubmatch(text); len(m) > 1 {
		if v, err := strconv.Atoi(m[1]); err == nil {
			return now.AddDate(0, 0, -v)
		}
	}
	return now
}
