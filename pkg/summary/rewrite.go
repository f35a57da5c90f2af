package summary

import (
	"context"
	"math/rand"
	"regexp"
	"strings"
)

var (
	urlPattern       = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+)`)
	cyrillicPattern  = regexp.MustCompile(`[А-Яа-яЁё]`)
	latinWordPattern = regexp.MustCompile(`[a-zA-Z]{3,}`)

	sourceRefPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)по данным\s+\S+`),
		regexp.MustCompile(`(?i)источник[:\s]+\S+`),
		regexp.MustCompile(`(?i)сообщает\s+\S+`),
		regexp.MustCompile(`(?i)пишет\s+\S+`),
		regexp.MustCompile(`(?i)согласно\s+\S+`),
		regexp.MustCompile(`(?i)как сообщает\s+\S+`),
		regexp.MustCompile(`(?i)reported by\s+\S+`),
		regexp.MustCompile(`(?i)according to\s+\S+`),
		regexp.MustCompile(`(?i)source[:\s]+\S+`),
	}

	captionEmojis = []string{"🔥", "💎", "⚡", "🚀", "📊", "💰", "🎯", "⭐"}
)

// impactRule maps content keywords to a closing market-impact line.
type impactRule struct {
	keywords []string
	line     string
}

var impactRules = []impactRule{
	{
		keywords: []string{"рост", "повышение", "подъем", "rally", "bullish", "прибыль"},
		line:     "Позитивный сигнал для рынка — возможен рост котировок.",
	},
	{
		keywords: []string{"падение", "снижение", "обвал", "crash", "bearish", "убыток"},
		line:     "Негативный фактор — возможна коррекция цен.",
	},
	{
		keywords: []string{"регулир", "запрет", "ограничение", "санкции", "закон"},
		line:     "Регуляторные изменения могут повлиять на волатильность.",
	},
	{
		keywords: []string{"обновление", "запуск", "интеграция", "технология", "upgrade"},
		line:     "Технологическое развитие — укрепление позиций в долгосрочной перспективе.",
	},
	{
		keywords: []string{"инвестиции", "фонд", "институц", "биржа", "listing"},
		line:     "Институциональный интерес — сигнал роста доверия к активу.",
	},
}

const defaultImpactLine = "Рынок наблюдает за развитием событий — возможна повышенная волатильность."

// Rewriter composes a caption heuristically: cleaned title and summary with
// an emoji prefix and a keyword-driven market-impact line. It never fails,
// which makes it the terminal fallback in a summarizer chain.
type Rewriter struct {
	MaxChars int
}

// NewRewriter creates a rewriter truncating captions to maxChars runes.
func NewRewriter(maxChars int) *Rewriter {
	if maxChars <= 0 {
		maxChars = 1000
	}
	return &Rewriter{MaxChars: maxChars}
}

func (r *Rewriter) Summarize(_ context.Context, title, body string) (string, error) {
	title = cleanText(title)
	body = cleanText(body)

	// For Russian-language items, drop leftover latin runs (site names,
	// bylines) that survived the attribution stripping.
	if looksRussian(title) {
		title = collapse(latinWordPattern.ReplaceAllString(title, ""))
	}
	if looksRussian(body) {
		body = collapse(latinWordPattern.ReplaceAllString(body, ""))
	}

	if title == "" {
		title = "Новость"
	}

	emoji := captionEmojis[rand.Intn(len(captionEmojis))]
	caption := emoji + " " + title

	if body != "" {
		if len([]rune(body)) > 400 {
			body = trimToSentence(body, 400)
		}
		caption += "\n\n" + body
	}

	caption += "\n\n💡 " + marketImpact(title, body)

	return Truncate(caption, r.MaxChars), nil
}

func cleanText(s string) string {
	s = urlPattern.ReplaceAllString(s, "")
	for _, p := range sourceRefPatterns {
		s = p.ReplaceAllString(s, "")
	}
	return collapse(s)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func looksRussian(s string) bool {
	return cyrillicPattern.MatchString(s)
}

// trimToSentence cuts at the last sentence boundary within limit runes.
func trimToSentence(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := string(runes[:limit])
	if idx := strings.LastIndex(cut, "."); idx > 0 {
		return cut[:idx+1]
	}
	return cut
}

func marketImpact(title, body string) string {
	text := strings.ToLower(title + " " + body)
	for _, rule := range impactRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.line
			}
		}
	}
	return defaultImpactLine
}

// Truncate cuts a caption to limit runes, ending with an ellipsis when
// anything was removed.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit < 1 {
		return ""
	}
	return string(runes[:limit-1]) + "…"
}
