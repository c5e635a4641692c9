// Package categorizer assigns a market category from keyword matches.
package categorizer

import (
	"regexp"
	"strings"
)

// Other is returned when no keyword matches.
const Other = "other"

type category struct {
	name     string
	keywords []keyword
}

type keyword struct {
	text string
	word *regexp.Regexp
}

// Categorizer scores text against ordered keyword lists. A whole-word match
// scores 2 and a substring match scores 1; ties go to the earlier category.
type Categorizer struct {
	categories []category
}

var defaultKeywords = []struct {
	name     string
	keywords []string
}{
	{"crypto", []string{
		"bitcoin", "btc", "ethereum", "eth", "solana", "sol", "crypto",
		"token", "coin", "defi", "nft", "blockchain", "binance", "coinbase",
		"memecoin", "dogecoin", "doge", "xrp", "ripple", "cardano", "ada",
		"polygon", "matic", "avalanche", "avax", "chainlink", "link",
		"uniswap", "aave", "maker", "dao", "web3", "satoshi", "halving",
		"stablecoin", "usdt", "usdc", "tether", "market cap",
	}},
	{"sports", []string{
		"nba", "nfl", "mlb", "nhl", "soccer", "football", "basketball",
		"baseball", "hockey", "tennis", "golf", "ufc", "mma", "boxing",
		"f1", "formula 1", "nascar", "olympics", "world cup", "super bowl",
		"championship", "playoff", "finals", "mvp", "win the", "beat",
		"lakers", "celtics", "warriors", "chiefs", "eagles", "cowboys",
		"yankees", "dodgers", "premier league", "la liga", "champions league",
		"manchester", "liverpool", "arsenal", "chelsea", "real madrid",
		"barcelona", "psg", "serie a", "bundesliga", "tottenham", "spurs",
	}},
	{"politics", []string{
		"trump", "biden", "president", "election", "vote", "congress",
		"senate", "house", "republican", "democrat", "gop", "primary",
		"governor", "mayor", "political", "legislation", "bill", "law",
		"executive order", "impeach", "supreme court", "scotus", "cabinet",
		"secretary", "administration", "white house", "poll", "approval",
		"parliamentary", "prime minister", "brexit", "eu", "nato", "un",
		"sanctions", "tariff", "immigration", "border", "policy",
	}},
	{"economics", []string{
		"fed", "federal reserve", "interest rate", "inflation", "cpi",
		"gdp", "recession", "unemployment", "jobs report", "fomc",
		"treasury", "bond", "yield", "stock market", "s&p", "dow jones",
		"nasdaq", "ipo", "earnings", "revenue", "profit", "merger",
		"acquisition", "bankruptcy", "default", "debt ceiling", "stimulus",
		"quantitative easing", "rate cut", "rate hike", "economic",
		"oil price", "gold price", "commodity", "trade", "export", "import",
	}},
	{"entertainment", []string{
		"oscar", "emmy", "grammy", "golden globe", "movie", "film",
		"box office", "netflix", "disney", "hbo", "streaming", "album",
		"song", "artist", "concert", "tour", "celebrity", "kardashian",
		"taylor swift", "beyonce", "drake", "kanye", "elon musk", "twitter",
		"x.com", "meta", "facebook", "instagram", "tiktok", "youtube",
		"viral", "influencer", "podcast", "joe rogan", "tv show", "series",
	}},
	{"science", []string{
		"nasa", "spacex", "rocket", "launch", "moon", "mars", "asteroid",
		"satellite", "space", "orbit", "ai", "artificial intelligence",
		"gpt", "openai", "anthropic", "google ai", "deepmind", "chatgpt",
		"climate", "temperature", "carbon", "emission", "renewable",
		"solar", "nuclear", "fusion", "quantum", "breakthrough", "fda",
		"vaccine", "drug", "trial", "cure", "disease", "pandemic", "virus",
	}},
}

// New returns a Categorizer with the built-in keyword lists.
func New() *Categorizer {
	c := &Categorizer{}
	for _, d := range defaultKeywords {
		cat := category{name: d.name}
		for _, kw := range d.keywords {
			cat.keywords = append(cat.keywords, keyword{
				text: kw,
				word: regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`),
			})
		}
		c.categories = append(c.categories, cat)
	}
	return c
}

// Categorize returns the best-scoring category for the question and
// description, or Other.
func (c *Categorizer) Categorize(question, description string) string {
	text := strings.ToLower(question + " " + description)
	best, bestScore := Other, 0
	for _, cat := range c.categories {
		score := 0
		for _, kw := range cat.keywords {
			if !strings.Contains(text, kw.text) {
				continue
			}
			if kw.word.MatchString(text) {
				score += 2
			} else {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = cat.name, score
		}
	}
	return best
}

// Categories lists the known category names in priority order.
func (c *Categorizer) Categories() []string {
	out := make([]string, len(c.categories))
	for i, cat := range c.categories {
		out[i] = cat.name
	}
	return out
}
