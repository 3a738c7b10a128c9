package llm

import "context"

// vendor describes a hosted or local service that speaks the OpenAI
// chat/embeddings protocol.
type vendor struct {
	baseURL      string
	pathPrefix   string
	defaultModel string
}

// vendors maps provider names to their defaults. Ollama, local and custom
// are handled separately in NewProvider.
var vendors = map[string]vendor{
	"lmstudio":   {baseURL: "http://localhost:1234", pathPrefix: "/v1"},
	"openrouter": {baseURL: "https://openrouter.ai/api", pathPrefix: "/v1"},
	"openai":     {baseURL: "https://api.openai.com", pathPrefix: "/v1", defaultModel: "gpt-4o-mini"},
	"groq":       {baseURL: "https://api.groq.com/openai", pathPrefix: "/v1", defaultModel: "llama-3.3-70b-versatile"},
	"xai":        {baseURL: "https://api.x.ai", pathPrefix: "/v1"},
	// Gemini's OpenAI-compatible endpoint has no /v1 segment.
	"gemini": {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", pathPrefix: ""},
}

// vendorProvider is an OpenAI-compatible provider with vendor defaults applied.
type vendorProvider struct {
	name string
	base openAICompatClient
}

func newVendor(cfg Config, v vendor) *vendorProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = v.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = v.defaultModel
	}
	return &vendorProvider{name: cfg.Provider, base: newOpenAICompatClientPrefix(cfg, v.pathPrefix)}
}

func (p *vendorProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *vendorProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}
