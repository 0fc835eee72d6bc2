// Package openai adapts the OpenAI chat API to the oracle interface: it
// answers edge predicates and executes llm-kind nodes.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pvandervelde/cog-works-sub002/internal/app/usecases"
	"github.com/pvandervelde/cog-works-sub002/internal/core/condition"
	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
)

// Pricing is the per-1K-token cost used to account node spend. Rates are
// configuration, not constants, because they change per model and over time.
type Pricing struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// Config holds the oracle's model settings.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Pricing     Pricing
}

// Oracle implements usecases.Oracle over the OpenAI chat completion API.
type Oracle struct {
	client  *openai.Client
	model   string
	max     int
	temp    float32
	pricing Pricing
}

// New creates an oracle from the config.
func New(cfg Config) *Oracle {
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Oracle{
		client:  openai.NewClient(cfg.APIKey),
		model:   model,
		max:     cfg.MaxTokens,
		temp:    cfg.Temperature,
		pricing: cfg.Pricing,
	}
}

const decisionSystemPrompt = `You decide whether a condition holds for the current pipeline state.
Respond with a JSON object: {"decision": true|false, "rationale": "one sentence"}.`

// EvaluateCondition asks the model to answer one natural-language predicate.
// An empty rationale is reported as-is; the condition evaluator treats it as
// ambiguous and falls back.
func (o *Oracle) EvaluateCondition(ctx context.Context, req condition.Request) (condition.Decision, error) {
	snapshot, err := json.Marshal(req.Snapshot)
	if err != nil {
		return condition.Decision{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	resp, err := o.complete(ctx, decisionSystemPrompt,
		fmt.Sprintf("Condition: %s\n\nPipeline state:\n%s", req.Prompt, snapshot))
	if err != nil {
		return condition.Decision{}, classify(err)
	}

	var decision condition.Decision
	if err := json.Unmarshal([]byte(resp.content), &decision); err != nil {
		return condition.Decision{}, fmt.Errorf("oracle returned malformed decision: %w", err)
	}
	return decision, nil
}

const invocationSystemPrompt = `You execute one stage of an automated engineering pipeline.
Respond with a single JSON object containing exactly the requested output keys.`

// InvokeNode executes one llm-kind node and accounts its token spend.
func (o *Oracle) InvokeNode(ctx context.Context, req usecases.NodeInvocation) (*usecases.NodeOutput, error) {
	inputs, err := json.Marshal(req.Inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode inputs: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Stage: %s\nInstruction: %s\n", req.Node, req.Prompt)
	if len(req.Schema) > 0 {
		fmt.Fprintf(&b, "Required output keys: %s\n", strings.Join(req.Schema, ", "))
	}
	if req.Feedback != "" {
		fmt.Fprintf(&b, "The previous attempt was rejected: %s\n", req.Feedback)
	}
	fmt.Fprintf(&b, "\nInputs:\n%s", inputs)

	resp, err := o.complete(ctx, invocationSystemPrompt, b.String())
	if err != nil {
		return nil, classify(err)
	}

	output := map[string]any{}
	if err := json.Unmarshal([]byte(resp.content), &output); err != nil {
		return nil, fmt.Errorf("oracle returned malformed output: %w", err)
	}

	return &usecases.NodeOutput{
		Output:    output,
		TokensIn:  pipeline.TokenCount(resp.promptTokens),
		TokensOut: pipeline.TokenCount(resp.completionTokens),
		Cost:      o.cost(resp.promptTokens, resp.completionTokens),
	}, nil
}

type completion struct {
	content          string
	promptTokens     int
	completionTokens int
}

func (o *Oracle) complete(ctx context.Context, system, user string) (*completion, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		MaxTokens:   o.max,
		Temperature: o.temp,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no completion returned")
	}
	return &completion{
		content:          resp.Choices[0].Message.Content,
		promptTokens:     resp.Usage.PromptTokens,
		completionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (o *Oracle) cost(promptTokens, completionTokens int) pipeline.TokenCost {
	in := float64(promptTokens) / 1000 * o.pricing.InputPer1K
	out := float64(completionTokens) / 1000 * o.pricing.OutputPer1K
	return pipeline.TokenCost(in + out)
}

// classify separates fatal API errors (bad credentials, malformed request)
// from transient ones so the executor's retry classification sees them.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest, http.StatusNotFound:
			return &pipeline.ConfigurationError{
				Subject: "oracle",
				Message: apiErr.Message,
				Err:     err,
			}
		}
	}
	return err
}
