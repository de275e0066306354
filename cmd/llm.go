package cmd

import (
	"os"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/spf13/viper"

	"github.com/joescharf/ghcanvas/internal/assistant"
	"github.com/joescharf/ghcanvas/internal/llm"
	"github.com/joescharf/ghcanvas/internal/store"
)

// newLLMClient creates an LLM client from config/env, or returns nil if no API key is configured.
func newLLMClient() *llm.Client {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	var opts []option.RequestOption
	if baseURL := viper.GetString("anthropic.base_url"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return llm.NewClient(apiKey, viper.GetString("anthropic.model"), opts...)
}

// newAssistant wires the assistant to the store and gateway, or returns nil
// when no model is configured.
func newAssistant(s store.Store, gw assistant.IssueSource) *assistant.Assistant {
	client := newLLMClient()
	if client == nil {
		return nil
	}
	return assistant.New(client, s, gw)
}
