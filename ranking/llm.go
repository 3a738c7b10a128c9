package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/brunobiangulo/mentormatch/llm"
)

// maxItemRunes caps each pool text sent to the model.
const maxItemRunes = 2000

// ChatRanker implements LLMRanker on top of a chat completion provider
// in JSON mode.
type ChatRanker struct {
	provider    llm.Provider
	model       string
	temperature float64
	timeout     time.Duration
}

// ChatRankerConfig configures a ChatRanker.
type ChatRankerConfig struct {
	Model       string
	Temperature float64
	// Timeout bounds the whole request. Zero means 20s.
	Timeout time.Duration
}

// NewChatRanker wraps provider as an LLMRanker.
func NewChatRanker(provider llm.Provider, cfg ChatRankerConfig) *ChatRanker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &ChatRanker{
		provider:    provider,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}
}

const rankSystemPrompt = `You match people and projects on a university mentoring platform.
You receive a SUBJECT and a numbered list of CANDIDATES. Choose the best candidates for the subject.
Respond with a JSON object only, in exactly this shape:
{"top":[{"num":<candidate number>,"score":<number between 0 and 1>,"reason":"<one short sentence>"}]}
Rules:
- Return exactly %d items ordered from best to worst.
- "num" must be one of the candidate numbers shown; never repeat a number.
- "score" reflects match quality, 1 is a perfect match.
- Write the reason in the language of the subject text.`

type rankPayload struct {
	Subject    string          `json:"subject"`
	Candidates []rankCandidate `json:"candidates"`
}

type rankCandidate struct {
	Num     int    `json:"num"`
	Profile string `json:"profile"`
}

// RankCandidates sends one request under the ranker's timeout. It does
// not retry; the caller falls back on any error.
func (c *ChatRanker) RankCandidates(ctx context.Context, subject string, pool []string, topN int) ([]Pick, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload := rankPayload{Subject: truncateRunes(subject, maxItemRunes)}
	for i, text := range pool {
		payload.Candidates = append(payload.Candidates, rankCandidate{Num: i + 1, Profile: truncateRunes(text, maxItemRunes)})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.provider.Chat(ctx, llm.ChatRequest{
		Model: c.model,
		Messages: []llm.Message{
			{Role: "system", Content: fmt.Sprintf(rankSystemPrompt, topN)},
			{Role: "user", Content: string(body)},
		},
		Temperature:    c.temperature,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("ranking request: %w", err)
	}
	return parseRankReply(resp.Content)
}

// rankReply is the JSON shape returned by the model.
type rankReply struct {
	Top []rankItem `json:"top"`
}

type rankItem struct {
	Num    *int     `json:"num"`
	Score  *float64 `json:"score"`
	Reason string   `json:"reason"`
}

// parseRankReply decodes a model reply into picks with 0-based indices.
// Items without a number or score are dropped; range and duplicate checks
// are left to the ranker, which knows the pool.
func parseRankReply(raw string) ([]Pick, error) {
	js, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	var reply rankReply
	if err := json.Unmarshal([]byte(js), &reply); err != nil {
		return nil, fmt.Errorf("decoding ranking reply: %w", err)
	}
	if reply.Top == nil {
		return nil, fmt.Errorf("ranking reply has no \"top\" list")
	}

	picks := make([]Pick, 0, len(reply.Top))
	for _, it := range reply.Top {
		if it.Num == nil || it.Score == nil {
			continue
		}
		picks = append(picks, Pick{Index: *it.Num - 1, Score: *it.Score, Reason: strings.TrimSpace(it.Reason)})
	}
	return picks, nil
}

// codeBlockRe strips markdown code fences from LLM output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON finds the JSON object in a model reply, tolerating code
// fences and text around the object.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}
	return "", fmt.Errorf("no JSON object found in response")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
