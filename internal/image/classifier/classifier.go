package classifier

import (
	"errors"
	"fmt"
	"time"

	"github.com/lk2023060901/vision-backend/internal/image/biz"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
)

const (
	ProviderStatic = "static"
	ProviderHTTP   = "http"
	ProviderOpenAI = "openai"
)

// Config 分类器配置
type Config struct {
	Provider string `mapstructure:"provider"` // static, http, openai

	// http：模型服务地址；openai：可选的 base URL
	Endpoint string        `mapstructure:"endpoint"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// LabelsFile 类别下标到标签的映射，每行一个标签
	LabelsFile string `mapstructure:"labels_file"`
	// LabelPath、IndexPath 为模型服务响应中的 gjson 路径，两者都命中时以标签为准。
	// IndexPath 指向分数数组时取 argmax。
	LabelPath string `mapstructure:"label_path"`
	IndexPath string `mapstructure:"index_path"`

	StaticLabel string `mapstructure:"static_label"`
}

// DefaultConfig 默认使用 static 分类器
func DefaultConfig() *Config {
	return &Config{
		Provider:    ProviderStatic,
		Model:       "gpt-4o-mini",
		Timeout:     30 * time.Second,
		LabelPath:   "label",
		IndexPath:   "class_index",
		StaticLabel: "unclassified",
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderStatic:
		if c.StaticLabel == "" {
			return errors.New("static_label is required for the static classifier")
		}
	case ProviderHTTP:
		if c.Endpoint == "" {
			return errors.New("endpoint is required for the http classifier")
		}
		if c.LabelPath == "" && c.IndexPath == "" {
			return errors.New("label_path or index_path is required for the http classifier")
		}
	case ProviderOpenAI:
		if c.APIKey == "" {
			return errors.New("api_key is required for the openai classifier")
		}
	default:
		return fmt.Errorf("unsupported classifier provider %q, must be one of: static, http, openai", c.Provider)
	}
	if c.Timeout < 0 {
		return errors.New("timeout must be >= 0")
	}
	return nil
}

// New 按配置创建分类器
func New(cfg *Config, log *logger.Logger) (biz.Classifier, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.L()
	}

	var labels Labels
	if cfg.LabelsFile != "" {
		var err error
		if labels, err = LoadLabels(cfg.LabelsFile); err != nil {
			return nil, err
		}
	}

	switch cfg.Provider {
	case ProviderHTTP:
		return NewHTTPClassifier(&HTTPClassifierConfig{
			Endpoint:  cfg.Endpoint,
			APIKey:    cfg.APIKey,
			Timeout:   cfg.Timeout,
			LabelPath: cfg.LabelPath,
			IndexPath: cfg.IndexPath,
			Labels:    labels,
		}, log)
	case ProviderOpenAI:
		return NewOpenAIClassifier(&OpenAIClassifierConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.Endpoint,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
			Labels:  labels,
		}, log)
	default:
		return NewStaticClassifier(cfg.StaticLabel), nil
	}
}
