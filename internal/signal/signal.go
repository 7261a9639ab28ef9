// Package signal turns the portfolio stage's free-form verdict into a
// structured trading decision. Agents are prompted to end their verdict
// with a JSON object; when they comply, that object is authoritative, and
// keyword scoring over the prose is only the fallback.
package signal

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Decision is the extracted trading intent.
type Decision struct {
	Action       string  `json:"action"` // BUY, SELL, HOLD
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
	EntryPrice   float64 `json:"entry_price,omitempty"`
	StopLoss     float64 `json:"stop_loss,omitempty"`
	TakeProfit   float64 `json:"take_profit,omitempty"`
	PositionSize float64 `json:"position_size,omitempty"`
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Extract parses a verdict. The structured contract is tried first, then
// the keyword heuristics.
func Extract(text string) Decision {
	if d, ok := parseStructured(text); ok {
		return d
	}
	return NewExtractor().FromText(text)
}

func parseStructured(text string) (Decision, bool) {
	candidates := []string{}
	for _, m := range fencedJSON.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			candidates = append(candidates, text[start:end+1])
		}
	}

	for _, raw := range candidates {
		var d Decision
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			continue
		}
		d.Action = strings.ToUpper(strings.TrimSpace(d.Action))
		if d.Action != "BUY" && d.Action != "SELL" && d.Action != "HOLD" {
			continue
		}
		d.Confidence = clamp(d.Confidence, 0, 1)
		if d.Confidence == 0 {
			d.Confidence = 0.5
		}
		return d, true
	}
	return Decision{}, false
}

// Extractor scores free-form analysis text against directional keyword
// patterns. It is deliberately crude: the structured contract above is the
// expected path, this is the safety net for non-conforming model output.
type Extractor struct {
	buy  []*regexp.Regexp
	sell []*regexp.Regexp
	hold []*regexp.Regexp
}

func NewExtractor() *Extractor {
	return &Extractor{
		buy: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(buy|long|bullish|accumulate|upside)\b`),
			regexp.MustCompile(`(?i)\b(strong buy|buy recommendation)\b`),
			regexp.MustCompile(`(?i)\b(undervalued|oversold|growth potential)\b`),
		},
		sell: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(sell|short|bearish|downside|divest|avoid)\b`),
			regexp.MustCompile(`(?i)\b(strong sell|sell recommendation)\b`),
			regexp.MustCompile(`(?i)\b(overvalued|overbought|deteriorating)\b`),
		},
		hold: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(hold|maintain|neutral|wait|sideways)\b`),
			regexp.MustCompile(`(?i)\b(no action|stay put|keep position)\b`),
		},
	}
}

// FromText extracts a decision by keyword scoring.
func (e *Extractor) FromText(text string) Decision {
	action := e.action(text)
	return Decision{
		Action:       action,
		Confidence:   e.confidence(text, action),
		Reasoning:    e.reasoning(text, action),
		EntryPrice:   extractPrice(text, "entry"),
		StopLoss:     extractPrice(text, "stop"),
		TakeProfit:   extractPrice(text, "target"),
		PositionSize: extractPositionSize(text),
	}
}

func (e *Extractor) action(text string) string {
	lower := strings.ToLower(text)
	buy := score(e.buy, lower)
	sell := score(e.sell, lower)
	hold := score(e.hold, lower)

	switch {
	case buy > sell && buy > hold:
		return "BUY"
	case sell > buy && sell > hold:
		return "SELL"
	default:
		return "HOLD"
	}
}

func score(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, p := range patterns {
		n += len(p.FindAllString(text, -1))
	}
	return n
}

func (e *Extractor) confidence(text, action string) float64 {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0.5
	}

	var patterns []*regexp.Regexp
	switch action {
	case "BUY":
		patterns = e.buy
	case "SELL":
		patterns = e.sell
	default:
		patterns = e.hold
	}

	matches := score(patterns, strings.ToLower(text))
	return clamp(float64(matches)/float64(words)*10, 0.1, 1.0)
}

func (e *Extractor) reasoning(text, action string) string {
	actionWords := map[string][]string{
		"BUY":  {"buy", "bullish", "growth", "opportunity", "undervalued"},
		"SELL": {"sell", "bearish", "risk", "decline", "overvalued"},
		"HOLD": {"hold", "neutral", "wait", "maintain", "uncertain"},
	}

	var picked []string
	for _, sentence := range strings.Split(text, ".") {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) < 10 {
			continue
		}
		for _, word := range actionWords[action] {
			if strings.Contains(strings.ToLower(sentence), word) {
				picked = append(picked, sentence)
				break
			}
		}
		if len(picked) >= 3 {
			break
		}
	}

	if len(picked) == 0 {
		return "Decision based on the combined analyst, debate and risk output."
	}
	return strings.Join(picked, ". ")
}

// The numeric group must not swallow a sentence-ending period, so the
// fractional part is optional as a whole rather than digit by digit.
var pricePatterns = map[string]*regexp.Regexp{
	"entry":  regexp.MustCompile(`(?i)entry[^$\d]*\$?(\d+(?:\.\d+)?)`),
	"stop":   regexp.MustCompile(`(?i)stop[^$\d]*\$?(\d+(?:\.\d+)?)`),
	"target": regexp.MustCompile(`(?i)target[^$\d]*\$?(\d+(?:\.\d+)?)`),
}

func extractPrice(text, kind string) float64 {
	pattern, ok := pricePatterns[kind]
	if !ok {
		return 0
	}
	m := pattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0
	}
	price, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return price
}

var positionPattern = regexp.MustCompile(`(?i)position[^0-9]*(\d+(?:\.\d+)?)`)

func extractPositionSize(text string) float64 {
	m := positionPattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0.1
	}
	size, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0.1
	}
	return size
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
