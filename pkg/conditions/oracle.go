package conditions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Oracle answers whether text satisfies a natural-language criterion. Calls
// are bounded by the evaluator's per-call timeout through ctx.
type Oracle interface {
	Judge(ctx context.Context, text, criterion string) (bool, error)
}

const DefaultOracleModel = openai.GPT4oMini

const judgePrompt = "You classify customer messages. Answer with a single word: " +
	"\"yes\" if the message satisfies the criterion, \"no\" otherwise.\n\nCriterion: %s"

var ErrOracleAnswer = errors.New("oracle gave no usable answer")

type OpenAIOracleConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
}

// OpenAIOracle judges criteria with a chat completion answering yes or no.
// Any OpenAI-compatible endpoint works through BaseURL.
type OpenAIOracle struct {
	client *openai.Client
	model  string
}

func NewOpenAIOracle(cfg OpenAIOracleConfig) *OpenAIOracle {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	if cfg.Client != nil {
		config.HTTPClient = cfg.Client
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOracleModel
	}

	return &OpenAIOracle{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

func (o *OpenAIOracle) Judge(ctx context.Context, text, criterion string) (bool, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(judgePrompt, criterion)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0,
		MaxTokens:   3,
	})
	if err != nil {
		return false, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return false, ErrOracleAnswer
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content))
	answer = strings.TrimRight(answer, ".!")

	switch answer {
	case "yes", "true":
		return true, nil
	case "no", "false":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrOracleAnswer, answer)
	}
}
