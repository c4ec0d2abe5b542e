package classifier

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lk2023060901/vision-backend/internal/image/biz"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const defaultPrompt = "You are an image classifier. Reply with a single short lowercase label naming the main subject of the image and nothing else."

// OpenAIClassifier 调用支持视觉的对话模型获取标签
type OpenAIClassifier struct {
	client *openai.Client
	model  string
	prompt string
	labels Labels
	logger *logger.Logger
}

var _ biz.Classifier = (*OpenAIClassifier)(nil)

// OpenAIClassifierConfig OpenAIClassifier 配置
type OpenAIClassifierConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// Labels 非空时答案限定在该集合内
	Labels Labels
}

// NewOpenAIClassifier 创建对话模型分类器。Timeout 大于 0 时作为 HTTP 客户端超时。
func NewOpenAIClassifier(cfg *OpenAIClassifierConfig, log *logger.Logger) (*OpenAIClassifier, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if log == nil {
		log = logger.L()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	prompt := defaultPrompt
	if len(cfg.Labels) > 0 {
		prompt += " Choose exactly one of: " + strings.Join(nonEmpty(cfg.Labels), ", ") + "."
	}

	log.Info("openai classifier created", zap.String("model", cfg.Model), zap.Int("labels", len(cfg.Labels)))

	return &OpenAIClassifier{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		prompt: prompt,
		labels: cfg.Labels,
		logger: log.Named("openai_classifier"),
	}, nil
}

func (c *OpenAIClassifier) Predict(ctx context.Context, in biz.ClassifyInput) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", in.MIME, base64.StdEncoding.EncodeToString(in.Data))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   16,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.prompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailLow},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	label := normalizeAnswer(resp.Choices[0].Message.Content)
	if label == "" {
		return "", errors.New("chat completion returned an empty answer")
	}
	if len(c.labels) > 0 {
		known, ok := c.match(label)
		if !ok {
			return "", fmt.Errorf("model answered %q, which is not a known label", label)
		}
		label = known
	}

	c.logger.Debug("image classified",
		zap.String("stored_name", in.Name),
		zap.String("label", label),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return label, nil
}

// match 返回 label 在配置中的写法
func (c *OpenAIClassifier) match(label string) (string, bool) {
	for _, l := range c.labels {
		if l != "" && strings.EqualFold(l, label) {
			return l, true
		}
	}
	return "", false
}

// normalizeAnswer 取回答的第一行，去掉引号和结尾句号
func normalizeAnswer(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	s = strings.Trim(strings.TrimSpace(s), "\"'`.")
	return strings.ToLower(strings.TrimSpace(s))
}

func nonEmpty(labels Labels) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
