package llmservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"openbook/internal/config"
	"openbook/internal/embedding"
)

// NewLLM builds the generation model handle. gpuLayers is only honoured by the ollama runner.
func NewLLM(llmConfig *config.LLMConfig, gpuLayers int) (llms.Model, error) {
	log.Debug().
		Str("provider", llmConfig.Provider).
		Str("base_url", llmConfig.BaseURL).
		Str("model", llmConfig.Model).
		Int("num_ctx", llmConfig.ContextSize).
		Int("num_thread", llmConfig.Threads).
		Int("num_gpu", gpuLayers).
		Msg("Creating LLM client")

	switch llmConfig.Provider {
	case "ollama", "":
		llm, err := ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
			ollama.WithRunnerNumCtx(llmConfig.ContextSize),
			ollama.WithRunnerNumThread(llmConfig.Threads),
			ollama.WithRunnerNumGPU(gpuLayers),
		)
		if err != nil {
			return nil, err
		}
		return llm, nil
	case "openai":
		llm, err := openai.New(
			openai.WithBaseURL(llmConfig.BaseURL),
			openai.WithToken(embedding.APIToken(llmConfig.Key)),
			openai.WithModel(llmConfig.Model),
		)
		if err != nil {
			return nil, err
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", llmConfig.Provider)
	}
}

// call llm
func GenerateContent(ctx context.Context, llm llms.Model, prompt string, maxTokens int, temperature float64) (string, error) {
	msgContent := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	res, err := llm.GenerateContent(ctx, msgContent,
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(temperature),
	)
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return res.Choices[0].Content, nil
}
