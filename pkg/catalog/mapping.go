package catalog

import (
	"strings"

	"github.com/lkarlslund/kagi-proxy/pkg/kagi"
)

// DefaultModel is used when a request names no model or an unknown one.
const DefaultModel = "openai/gpt-5-mini"

// Kagi provider names mapped to the prefixes OpenAI-style clients expect.
// Providers missing from the table keep their own name.
var providerNames = map[string]string{
	"openai":       "openai",
	"moonshot":     "moonshotai",
	"zai":          "zai",
	"kagi":         "kagi",
	"anthropic":    "anthropic",
	"qwen":         "qwen",
	"deepseek":     "deepseek",
	"google":       "google",
	"meta":         "meta",
	"xai":          "xai",
	"mistral":      "mistral",
	"nousresearch": "nousresearch",
}

var modelOverrides = map[string]string{
	"moonshot/kimi-k2.5": "moonshotai/kimi-k2.5",
}

// ModelID returns the public model id for a profile. Profiles the account
// cannot use, or that lack a model or provider, have none.
func ModelID(p kagi.Profile) (string, bool) {
	if !p.Accessible || p.Model == "" || p.ModelProvider == "" {
		return "", false
	}
	provider := p.ModelProvider
	if mapped, ok := providerNames[provider]; ok {
		provider = mapped
	}
	name := strings.ReplaceAll(strings.ToLower(p.ModelName), " ", "-")
	id := provider + "/" + name
	if override, ok := modelOverrides[id]; ok {
		id = override
	}
	return id, true
}

// BuildMapping maps public model ids to upstream model ids. When two
// profiles produce the same public id the later one wins.
func BuildMapping(profiles []kagi.Profile) map[string]string {
	out := make(map[string]string, len(profiles))
	for _, p := range profiles {
		id, ok := ModelID(p)
		if !ok {
			continue
		}
		out[id] = p.Model
	}
	return out
}
