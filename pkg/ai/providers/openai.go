package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

// OpenAIProvider talks to the OpenAI chat completions API and to any
// API-compatible server.
type OpenAIProvider struct {
	model    string
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewOpenAIProvider builds an OpenAI-compatible client from cfg.
func NewOpenAIProvider(cfg *ProviderConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	return &OpenAIProvider{
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   newHTTPClient(cfg.SkipTLSVerify),
	}, nil
}

func (o *OpenAIProvider) Name() string     { return "openai" }
func (o *OpenAIProvider) GetModel() string { return o.model }
func (o *OpenAIProvider) IsReady() bool    { return o.apiKey != "" && o.model != "" }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	Stream         bool                  `json:"stream,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
		Delta   openAIMessage `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (o *OpenAIProvider) buildMessages(system string, turns []Turn) []openAIMessage {
	msgs := make([]openAIMessage, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, openAIMessage{Role: "system", Content: system})
	}
	for _, t := range turns {
		role := "user"
		if t.Role == RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, openAIMessage{Role: role, Content: t.Text})
	}
	return msgs
}

func (o *OpenAIProvider) complete(ctx context.Context, req *openAIRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, httpStatusError(resp.StatusCode, respBody)
	}
	return resp, nil
}

func (o *OpenAIProvider) chat(ctx context.Context, system string, turns []Turn, format *openAIResponseFormat) (string, error) {
	resp, err := o.complete(ctx, &openAIRequest{
		Model:          o.model,
		Messages:       o.buildMessages(system, turns),
		ResponseFormat: format,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openai: read response: %w", err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("openai: parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("openai: %s (%s)", parsed.Error.Message, parsed.Error.Type)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai: empty response")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (o *OpenAIProvider) Chat(ctx context.Context, system string, turns []Turn) (string, error) {
	return o.chat(ctx, system, turns, nil)
}

func (o *OpenAIProvider) ChatJSON(ctx context.Context, system string, turns []Turn) (string, error) {
	return o.chat(ctx, system, turns, &openAIResponseFormat{Type: "json_object"})
}

func (o *OpenAIProvider) ChatStream(ctx context.Context, system string, turns []Turn, callback func(string)) error {
	resp, err := o.complete(ctx, &openAIRequest{
		Model:    o.model,
		Messages: o.buildMessages(system, turns),
		Stream:   true,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk openAIResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			callback(chunk.Choices[0].Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("openai: stream read: %w", err)
	}
	return nil
}

func (o *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+"/models", nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError(resp.StatusCode, respBody)
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("openai: parse models: %w", err)
	}

	names := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		names = append(names, m.ID)
	}
	return names, nil
}
