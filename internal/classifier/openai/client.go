package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ArcFlow/internal/classifier"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 30 * time.Second
)

const systemPrompt = "" +
	"Return a JSON object {\"categories\": [...]} of procurement categories " +
	"(snacks, badges, adapters, prizes) based on the user prompt. " +
	"Example: {\"categories\": [\"snacks\", \"prizes\"]}."

// Config 描述调用 OpenAI 兼容 Chat Completions API 所需的信息。
// Groq 等兼容服务通过 BaseURL 接入。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用大模型解析采购意图。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建分类客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供分类服务 API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Classify 调用大模型并解析出有序类目列表。
func (c *Client) Classify(ctx context.Context, prompt string) (*classifier.Result, error) {
	payload, err := c.buildPayload(prompt)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建分类请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求分类服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("分类服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析分类响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("分类响应中没有有效的 choices")
	}

	categories, err := parseCategories(decoded.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	return &classifier.Result{
		Categories: categories,
		Telemetry: classifier.Telemetry{
			Model:      c.model,
			LatencyMS:  time.Since(start).Milliseconds(),
			TokensUsed: decoded.Usage.TotalTokens,
		},
	}, nil
}

func (c *Client) buildPayload(prompt string) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	body := map[string]any{
		"model": c.model,
		"messages": []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		"temperature":     0.1,
		"response_format": map[string]string{"type": "json_object"},
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化分类请求失败: %w", err)
	}
	return encoded, nil
}

// parseCategories 兼容大模型可能返回的两种结构：
// {"categories": [...]} 或裸数组，并清理 Markdown 代码块标记。
func parseCategories(content string) ([]string, error) {
	content = strings.ReplaceAll(content, "```json", "")
	content = strings.ReplaceAll(content, "```", "")
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("分类响应内容为空")
	}

	var wrapped struct {
		Categories []string `json:"categories"`
	}
	if err := json.Unmarshal([]byte(content), &wrapped); err == nil && len(wrapped.Categories) > 0 {
		return wrapped.Categories, nil
	}

	var bare []string
	if err := json.Unmarshal([]byte(content), &bare); err == nil && len(bare) > 0 {
		return bare, nil
	}

	return nil, fmt.Errorf("无法从分类响应中解析类目: %s", content)
}
