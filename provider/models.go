package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// ModelInfo describes an available model from a provider.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListModels fetches the chat models available to apiKey from the given
// provider type. An empty baseURL selects the provider's public endpoint.
func ListModels(ctx context.Context, providerType, apiKey, baseURL string) ([]ModelInfo, error) {
	switch providerType {
	case "anthropic":
		if baseURL == "" {
			baseURL = defaultAnthropicBaseURL
		}
		return listAnthropicModels(ctx, apiKey, strings.TrimRight(baseURL, "/"))
	case "openai":
		if baseURL == "" {
			baseURL = defaultOpenAIBaseURL
		}
		return listOpenAIModels(ctx, "openai", apiKey, strings.TrimRight(baseURL, "/"), true)
	case "openrouter":
		if baseURL == "" {
			baseURL = OpenRouterBaseURL
		}
		return listOpenAIModels(ctx, "openrouter", apiKey, strings.TrimRight(baseURL, "/"), false)
	case "mock":
		return []ModelInfo{{ID: "mock", Name: "Offline mock"}}, nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
}

// getModels performs the GET and returns the body of a 200 response.
func getModels(ctx context.Context, name, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", name, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: name, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// listAnthropicModels calls the Anthropic /v1/models endpoint.
func listAnthropicModels(ctx context.Context, apiKey, baseURL string) ([]ModelInfo, error) {
	header := http.Header{}
	header.Set("x-api-key", apiKey)
	header.Set("anthropic-version", anthropicAPIVersion)
	body, err := getModels(ctx, "anthropic", baseURL+"/v1/models", header)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
			Type        string `json:"type"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("anthropic: parse response: %w", err)
	}

	var models []ModelInfo
	for _, m := range result.Data {
		if m.Type != "" && m.Type != "model" {
			continue
		}
		name := m.DisplayName
		if name == "" {
			name = m.ID
		}
		models = append(models, ModelInfo{ID: m.ID, Name: name})
	}
	sortModels(models)
	return models, nil
}

// chatPrefixes selects the chat-capable models of the OpenAI catalogue.
var chatPrefixes = []string{"gpt-", "o1", "o3", "o4", "chatgpt"}

// listOpenAIModels calls an OpenAI-compatible /v1/models endpoint. With
// chatOnly the catalogue is filtered to chat models.
func listOpenAIModels(ctx context.Context, name, apiKey, baseURL string, chatOnly bool) ([]ModelInfo, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)
	body, err := getModels(ctx, name, baseURL+"/v1/models", header)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%s: parse response: %w", name, err)
	}

	var models []ModelInfo
	for _, m := range result.Data {
		if chatOnly && !hasChatPrefix(m.ID) {
			continue
		}
		display := m.Name
		if display == "" {
			display = m.ID
		}
		models = append(models, ModelInfo{ID: m.ID, Name: display})
	}
	sortModels(models)
	return models, nil
}

func hasChatPrefix(id string) bool {
	lower := strings.ToLower(id)
	for _, prefix := range chatPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func sortModels(models []ModelInfo) {
	sort.Slice(models, func(i, j int) bool {
		return models[i].ID < models[j].ID
	})
}
