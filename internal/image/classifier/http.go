package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lk2023060901/vision-backend/internal/image/biz"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// maxResponseBytes 模型服务响应最多读取的字节数
const maxResponseBytes = 1 << 20

// HTTPClassifier 将图片字节 POST 到模型服务，从 JSON 响应中读取标签
type HTTPClassifier struct {
	endpoint  string
	apiKey    string
	labelPath string
	indexPath string
	labels    Labels
	client    *http.Client
	logger    *logger.Logger
}

var _ biz.Classifier = (*HTTPClassifier)(nil)

// HTTPClassifierConfig HTTPClassifier 配置
type HTTPClassifierConfig struct {
	Endpoint  string
	APIKey    string // 非空时作为 bearer token 发送
	Timeout   time.Duration
	LabelPath string
	IndexPath string
	Labels    Labels // 解析 IndexPath 时必需
}

// NewHTTPClassifier 创建模型服务分类器
func NewHTTPClassifier(cfg *HTTPClassifierConfig, log *logger.Logger) (*HTTPClassifier, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.LabelPath == "" && cfg.IndexPath == "" {
		return nil, errors.New("label path or index path is required")
	}
	if cfg.LabelPath == "" && len(cfg.Labels) == 0 {
		return nil, errors.New("an index path needs a labels file")
	}
	if log == nil {
		log = logger.L()
	}

	return &HTTPClassifier{
		endpoint:  cfg.Endpoint,
		apiKey:    cfg.APIKey,
		labelPath: cfg.LabelPath,
		indexPath: cfg.IndexPath,
		labels:    cfg.Labels,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    log.Named("http_classifier"),
	}, nil
}

func (c *HTTPClassifier) Predict(ctx context.Context, in biz.ClassifyInput) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(in.Data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", in.MIME)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Image-Name", in.Name)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !gjson.ValidBytes(body) {
		return "", errors.New("model server returned invalid JSON")
	}

	label, err := c.extract(gjson.ParseBytes(body))
	if err != nil {
		return "", err
	}

	c.logger.Debug("image classified",
		zap.String("stored_name", in.Name),
		zap.String("label", label),
	)
	return label, nil
}

// extract 从响应中解析标签
func (c *HTTPClassifier) extract(result gjson.Result) (string, error) {
	if c.labelPath != "" {
		if v := result.Get(c.labelPath); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String(), nil
		}
	}
	if c.indexPath == "" || len(c.labels) == 0 {
		return "", fmt.Errorf("response has no label at %q", c.labelPath)
	}

	v := result.Get(c.indexPath)
	switch {
	case !v.Exists():
		return "", fmt.Errorf("response has no class index at %q", c.indexPath)
	case v.IsArray():
		index, err := argmax(v.Array())
		if err != nil {
			return "", err
		}
		return c.labels.Lookup(index)
	case v.Type == gjson.Number:
		return c.labels.Lookup(int(v.Int()))
	}
	return "", fmt.Errorf("class index at %q is %s, not a number", c.indexPath, v.Type)
}

// argmax 返回最高分的下标
func argmax(scores []gjson.Result) (int, error) {
	if len(scores) == 0 {
		return 0, errors.New("empty score array")
	}
	best := 0
	for i, s := range scores {
		if s.Type != gjson.Number {
			return 0, fmt.Errorf("score %d is not a number", i)
		}
		if s.Float() > scores[best].Float() {
			best = i
		}
	}
	return best, nil
}
