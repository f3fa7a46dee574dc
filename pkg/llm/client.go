// Package llm 提供了访问生成式后端（聊天、摘要、图片）的客户端。
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"nova-chat-go/internal/config"
)

// MessageWriter defines an interface for writing WebSocket messages.
// This allows both a standard websocket.Conn and our interceptor to be used.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Client 定义了生成式后端客户端的接口。
// Summarize 与 GenerateImage 都是尽力而为的协作方：调用失败由上层
// 按各自的策略恢复，不会污染已持久化的状态。
type Client interface {
	// StreamChatMessages 以 role-based 消息调用聊天接口，并将流式分块写入 writer。
	StreamChatMessages(ctx context.Context, messages []Message, writer MessageWriter) error
	// Summarize 请求后端将 text 压缩为摘要，purpose 提示压缩目标。
	Summarize(ctx context.Context, text, purpose string) (string, error)
	// GenerateImage 请求后端生成图片，返回 base64 编码的图片字节。
	GenerateImage(ctx context.Context, prompt, size string) (string, error)
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type httpClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client based on the config.
func NewClient(cfg config.LLMConfig) Client {
	return &httpClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type summarizeRequest struct {
	Text        string `json:"text"`
	Purpose     string `json:"purpose,omitempty"`
	Description string `json:"description,omitempty"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

type imageRequest struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
}

type imageResponse struct {
	ImageB64 string `json:"image_b64"`
	Error    string `json:"error,omitempty"`
}

// StreamChatMessages 调用聊天接口并将 SSE 流式分块写入 writer。
func (c *httpClient) StreamChatMessages(ctx context.Context, messages []Message, writer MessageWriter) error {
	reqBody := chatRequest{
		Model:    c.cfg.ChatModel,
		Messages: messages,
		Stream:   true,
	}
	// 从全局配置注入生成参数（若非零值）
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		reqBody.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		reqBody.TopP = &p
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		reqBody.MaxTokens = &m
	}

	resp, err := c.post(ctx, "/chat/completions", reqBody, "text/event-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read from stream: %w", err)
		}

		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimPrefix(line, "data: ")
			if strings.TrimSpace(data) == "[DONE]" {
				break
			}

			var chunk chatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}

			if len(chunk.Choices) > 0 {
				content := chunk.Choices[0].Delta.Content
				if err := writer.WriteMessage(websocket.TextMessage, []byte(content)); err != nil {
					return fmt.Errorf("failed to write message to websocket: %w", err)
				}
			}
		}
	}
	return nil
}

// Summarize 调用摘要接口。空摘要视为失败。
func (c *httpClient) Summarize(ctx context.Context, text, purpose string) (string, error) {
	resp, err := c.post(ctx, "/summarize", summarizeRequest{Text: text, Purpose: purpose}, "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result summarizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode summarize response: %w", err)
	}
	if strings.TrimSpace(result.Summary) == "" {
		return "", fmt.Errorf("summarize returned empty result")
	}
	return result.Summary, nil
}

// GenerateImage 调用图片生成接口，返回 base64 编码的图片字节。
func (c *httpClient) GenerateImage(ctx context.Context, prompt, size string) (string, error) {
	resp, err := c.post(ctx, "/images/generations", imageRequest{Prompt: prompt, Size: size}, "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode image response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("image generation failed: %s", result.Error)
	}
	if result.ImageB64 == "" {
		return "", fmt.Errorf("image generation returned empty payload")
	}
	return result.ImageB64, nil
}

// post 发送一个带认证头的 JSON 请求，非 200 响应转换为错误。
func (c *httpClient) post(ctx context.Context, path string, body interface{}, accept string) (*http.Response, error) {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+path, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", accept)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%s returned non-200 status: %s, body: %s", path, resp.Status, string(bodyBytes))
	}
	return resp, nil
}
