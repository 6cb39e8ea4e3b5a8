package route

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func request(path string, headers map[string]string) *http.Request {
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	return req
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		req      *http.Request
		strategy Strategy
	}{
		{"navigate mode", request("/about", map[string]string{"Sec-Fetch-Mode": "navigate"}), StrategyNetworkFirst},
		{"accepts html", request("/about", map[string]string{"Accept": "text/html,application/xhtml+xml"}), StrategyNetworkFirst},
		{"navigation wins over extension", request("/logo.png", map[string]string{"Accept": "text/html"}), StrategyNetworkFirst},
		{"style destination", request("/theme", map[string]string{"Sec-Fetch-Dest": "style"}), StrategyStaleWhileRevalidate},
		{"script destination", request("/app", map[string]string{"Sec-Fetch-Dest": "script"}), StrategyStaleWhileRevalidate},
		{"css suffix", request("/assets/theme.css", nil), StrategyStaleWhileRevalidate},
		{"js suffix with query", request("/assets/theme.js?v=2", nil), StrategyStaleWhileRevalidate},
		{"script wins over image", request("/sprite.png", map[string]string{"Sec-Fetch-Dest": "script"}), StrategyStaleWhileRevalidate},
		{"image destination", request("/avatar", map[string]string{"Sec-Fetch-Dest": "image"}), StrategyCacheFirst},
		{"webp suffix", request("/assets/avatars/me.webp", nil), StrategyCacheFirst},
		{"jpeg suffix", request("/photo.jpeg", nil), StrategyCacheFirst},
		{"svg is other", request("/icon.svg", nil), StrategyCacheThenNetwork},
		{"text is other", request("/assets/misc/quotes/0001_.txt", nil), StrategyCacheThenNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.strategy, Classify(tt.req))
		})
	}
}

func TestRules(t *testing.T) {
	rules := Rules{
		Rule{Path: "/feed.xml", Strategy: StrategyNetworkFirst},
		Rule{Prefix: "/api/", Strategy: StrategyBypass},
	}
	assert.NoError(t, rules.Validate())

	assert.Equal(t, StrategyNetworkFirst, rules.Strategy(request("/feed.xml", nil)))
	assert.Equal(t, StrategyBypass, rules.Strategy(request("/api/quotes.js", nil)))
	assert.Equal(t, StrategyStaleWhileRevalidate, rules.Strategy(request("/assets/theme.js", nil)))
	assert.Equal(t, StrategyCacheThenNetwork, Rules(nil).Strategy(request("/robots.txt", nil)))
}

func TestRulesValidate(t *testing.T) {
	assert.Error(t, Rules{Rule{Strategy: StrategyBypass}}.Validate())
	assert.Error(t, Rules{Rule{Prefix: "/x", Strategy: "lru"}}.Validate())
}
