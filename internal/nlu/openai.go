package nlu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"strings"

	openai "github.com/openai/openai-go/v3"
)

const systemPrompt = `
You are the intent classifier of a home voice assistant.
Your ONLY job is to convert the user's utterance into a minimal structured JSON.

GENERAL RULES:
1. Do NOT converse.
2. Do NOT answer the question.
3. Do NOT add explanations.
4. Output ONLY JSON. No markdown.
5. Never hallucinate unknown devices or parameters.

OUTPUT FORMAT:
{
  "intent": "<string>",
  "action": "<string>",
  "entities": { ... },
  "query": "<original user text>"
}

INTENTS AND ACTIONS:
- "lights":      "on" | "off"
- "music":       "play" | "stop" | "pause"
- "volume":      "up" | "down"
- "temperature": "query" | "set"  (entity "value" holds the number for "set")
- "sensitivity": "increase" | "decrease"
- "unknown"      (if not classifiable, action "")

ENTITIES:
- "device": canonical device id when one is named ("lamp" for any light, lamp or night light)
- "value":  integer as a string when a number is given

If the meaning is unclear, intent = "unknown".
Do not generate text other than the JSON.
`

// OpenAIClassifier asks a chat model to classify the transcript.
type OpenAIClassifier struct {
	client openai.Client
	model  string
}

func NewOpenAIClassifier(client openai.Client, model string) *OpenAIClassifier {
	if model == "" {
		model = string(openai.ChatModelGPT5Nano)
	}
	return &OpenAIClassifier{client: client, model: model}
}

func (c *OpenAIClassifier) Classify(ctx context.Context, transcript string) (Result, error) {
	if strings.TrimSpace(transcript) == "" {
		return Result{Intent: IntentUnknown}, nil
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(transcript),
		},
		Model: openai.ChatModel(c.model),
	})
	if err != nil {
		return Result{}, fmt.Errorf("nlu: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, errors.New("nlu: no choices in response")
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return Result{}, errors.New("nlu: empty message content")
	}
	log.Debug("classified", "raw", content)

	return parseResult(content, transcript)
}

func parseResult(content, transcript string) (Result, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw struct {
		Intent   string         `json:"intent"`
		Action   string         `json:"action"`
		Entities map[string]any `json:"entities"`
		Query    string         `json:"query"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Result{}, fmt.Errorf("nlu: unmarshal result: %w (raw: %s)", err, content)
	}

	out := Result{
		Intent: ParseIntent(raw.Intent),
		Action: strings.ToLower(strings.TrimSpace(raw.Action)),
		Query:  raw.Query,
	}
	if out.Query == "" {
		out.Query = transcript
	}
	for k, v := range raw.Entities {
		if v == nil {
			continue
		}
		if out.Entities == nil {
			out.Entities = make(map[string]string, len(raw.Entities))
		}
		out.Entities[k] = fmt.Sprint(v)
	}
	return out, nil
}
