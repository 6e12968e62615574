// Package describe는 피어 도구 카탈로그의 자연어 설명을 생성합니다.
package describe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Tomas1307/mcp-client-proxy/internal/adapter"
)

// 패키지 에러
var (
	// ErrNoAPIKey는 API 키가 설정되지 않았을 때 반환됩니다.
	ErrNoAPIKey = errors.New("API 키가 설정되지 않았습니다")
	// ErrRateLimited는 레이트 리밋에 걸렸을 때 반환됩니다.
	ErrRateLimited = errors.New("레이트 리밋 초과")
	// ErrContextCanceled는 컨텍스트가 취소되었을 때 반환됩니다.
	ErrContextCanceled = errors.New("컨텍스트가 취소되었습니다")
	// ErrEmptyCatalog는 설명할 도구가 없을 때 반환됩니다.
	ErrEmptyCatalog = errors.New("설명할 도구가 없습니다")
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 1024
)

// Describer는 Anthropic API로 도구 카탈로그 설명을 생성합니다.
type Describer struct {
	client       anthropic.Client
	apiKey       string
	model        string
	maxRetries   int
	retryDelayMs int
}

// Option은 Describer 설정 옵션입니다.
type Option func(*Describer)

// WithAPIKey는 API 키를 설정합니다.
func WithAPIKey(apiKey string) Option {
	return func(d *Describer) {
		d.apiKey = apiKey
	}
}

// WithModel은 사용할 모델을 설정합니다.
func WithModel(model string) Option {
	return func(d *Describer) {
		d.model = model
	}
}

// WithMaxRetries는 최대 재시도 횟수를 설정합니다.
func WithMaxRetries(retries int) Option {
	return func(d *Describer) {
		d.maxRetries = retries
	}
}

// New는 새 Describer를 생성합니다.
// API 키는 환경변수 ANTHROPIC_API_KEY에서 가져옵니다.
func New(opts ...Option) (*Describer, error) {
	d := &Describer{
		model:        defaultModel,
		maxRetries:   3,
		retryDelayMs: 1000,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.apiKey == "" {
		d.apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if d.apiKey == "" {
		return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY 환경변수를 설정하세요", ErrNoAPIKey)
	}

	d.client = anthropic.NewClient(
		option.WithAPIKey(d.apiKey),
	)

	return d, nil
}

// Describe는 피어 하나의 도구 카탈로그에 대한 자연어 설명을 생성합니다.
func (d *Describer) Describe(ctx context.Context, peerID string, tools []adapter.ToolDescriptor) (string, error) {
	if len(tools) == 0 {
		return "", fmt.Errorf("%w: 피어 %q", ErrEmptyCatalog, peerID)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(d.model),
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(peerID, tools))),
		},
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
	}

	// 재시도 로직과 함께 API 호출
	var response *anthropic.Message
	var lastErr error

	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrContextCanceled, ctx.Err())
			case <-time.After(time.Duration(d.retryDelayMs*attempt) * time.Millisecond):
			}
		}

		response, lastErr = d.client.Messages.New(ctx, params)
		if lastErr == nil {
			break
		}

		if isRateLimitError(lastErr) {
			lastErr = fmt.Errorf("%w: %v", ErrRateLimited, lastErr)
			continue
		}

		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrContextCanceled, lastErr)
		}

		if !isRetryableError(lastErr) {
			break
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("anthropic API 호출 실패: %w", lastErr)
	}

	var output strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			output.WriteString(block.Text)
		}
	}

	return output.String(), nil
}

const systemPrompt = "You are a technical writer. Summarize MCP tool catalogs " +
	"for developers deciding which backend server to connect. Be concise and factual."

// buildPrompt는 도구 카탈로그를 설명 요청 프롬프트로 변환합니다.
func buildPrompt(peerID string, tools []adapter.ToolDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Describe what the MCP server %q can do based on its tool catalog.\n", peerID)
	b.WriteString("Write one short paragraph, then a bullet per tool.\n\nTools:\n")

	for _, tool := range tools {
		fmt.Fprintf(&b, "- %s", tool.Name)
		if tool.Description != "" {
			fmt.Fprintf(&b, ": %s", tool.Description)
		}
		if len(tool.Schema) > 0 {
			fmt.Fprintf(&b, " (input schema: %s)", tool.Schema)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// isRateLimitError는 레이트 리밋 에러인지 확인합니다.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests")
}

// isRetryableError는 재시도 가능한 에러인지 확인합니다.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// 서버 에러(5xx) 또는 타임아웃은 재시도 가능
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection")
}
