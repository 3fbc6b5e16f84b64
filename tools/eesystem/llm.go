package eesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const DefaultModel = openai.GPT4oMini

// llm proposes and critiques solutions through a chat completion model.
type llm struct {
	client *openai.Client
	model  string
	round  int
}

func newLLM(apiKey, baseURL, model string) *llm {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &llm{client: openai.NewClientWithConfig(cfg), model: model}
}

func (l *llm) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (l *llm) Propose(ctx context.Context, problem string, criteria []string, parents []Solution, n int) ([]Solution, error) {
	l.round++
	var b strings.Builder
	fmt.Fprintf(&b, "Problem: %s\nCriteria:\n", problem)
	for _, c := range criteria {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	if len(parents) > 0 {
		b.WriteString("\nImprove on these solutions:\n")
		for _, p := range parents {
			fmt.Fprintf(&b, "- %s (fitness %.2f): %s\n", p.Description, p.Fitness, p.Details)
		}
	}
	fmt.Fprintf(&b, "\nPropose %d distinct solutions. Reply with only a JSON array of objects with \"description\" and \"details\" fields. Name each criterion a solution satisfies in its details.", n)

	text, err := l.complete(ctx, "You generate diverse candidate solutions for an evolutionary search.", b.String())
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Description string `json:"description"`
		Details     string `json:"details"`
	}
	if err := json.Unmarshal([]byte(stripFence(text)), &raw); err != nil {
		return nil, fmt.Errorf("model reply is not a JSON array of solutions: %w", err)
	}
	if len(raw) > n {
		raw = raw[:n]
	}
	out := make([]Solution, len(raw))
	for i, r := range raw {
		out[i] = Solution{
			ID:          fmt.Sprintf("round%d-%d", l.round, i+1),
			Description: r.Description,
			Details:     r.Details,
		}
	}
	return out, nil
}

func (l *llm) Critique(ctx context.Context, s Solution, criteria []string) ([]string, error) {
	prompt := fmt.Sprintf("Criteria: %s\nSolution: %s\n%s\n\nList the main weaknesses, one per line. Reply NONE if there are none.",
		strings.Join(criteria, "; "), s.Description, s.Details)
	text, err := l.complete(ctx, "You are a strict reviewer of proposed solutions.", prompt)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*"))
		if line != "" && !strings.EqualFold(line, "none") {
			out = append(out, line)
		}
	}
	return out, nil
}

// stripFence removes a surrounding markdown code fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
