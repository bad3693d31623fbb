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

const defaultOllamaEndpoint = "http://localhost:11434"

// OllamaProvider talks to a local or remote Ollama server.
type OllamaProvider struct {
	model    string
	endpoint string
	client   *http.Client
}

// NewOllamaProvider builds an Ollama client from cfg. No API key is needed.
func NewOllamaProvider(cfg *ProviderConfig) (Provider, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}
	return &OllamaProvider{
		model:    cfg.Model,
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   newHTTPClient(cfg.SkipTLSVerify),
	}, nil
}

func (o *OllamaProvider) Name() string     { return "ollama" }
func (o *OllamaProvider) GetModel() string { return o.model }
func (o *OllamaProvider) IsReady() bool    { return o.model != "" }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type ollamaResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error"`
}

func (o *OllamaProvider) buildMessages(system string, turns []Turn) []ollamaMessage {
	msgs := make([]ollamaMessage, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: system})
	}
	for _, t := range turns {
		role := "user"
		if t.Role == RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, ollamaMessage{Role: role, Content: t.Text})
	}
	return msgs
}

func (o *OllamaProvider) send(ctx context.Context, req *ollamaRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, httpStatusError(resp.StatusCode, respBody)
	}
	return resp, nil
}

func (o *OllamaProvider) chat(ctx context.Context, system string, turns []Turn, format string) (string, error) {
	resp, err := o.send(ctx, &ollamaRequest{
		Model:    o.model,
		Messages: o.buildMessages(system, turns),
		Stream:   false,
		Format:   format,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ollama: read response: %w", err)
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("ollama: parse response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama: %s", parsed.Error)
	}
	return parsed.Message.Content, nil
}

func (o *OllamaProvider) Chat(ctx context.Context, system string, turns []Turn) (string, error) {
	return o.chat(ctx, system, turns, "")
}

func (o *OllamaProvider) ChatJSON(ctx context.Context, system string, turns []Turn) (string, error) {
	return o.chat(ctx, system, turns, "json")
}

func (o *OllamaProvider) ChatStream(ctx context.Context, system string, turns []Turn, callback func(string)) error {
	resp, err := o.send(ctx, &ollamaRequest{
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
		var chunk ollamaResponse
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			callback(chunk.Message.Content)
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ollama: stream read: %w", err)
	}
	return nil
}

func (o *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: request failed: %w", err)
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
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("ollama: parse models: %w", err)
	}

	names := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
