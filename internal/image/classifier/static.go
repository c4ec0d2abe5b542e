package classifier

import (
	"context"

	"github.com/lk2023060901/vision-backend/internal/image/biz"
)

// StaticClassifier 对所有图片返回同一个标签，开发环境中代替模型
type StaticClassifier struct {
	label string
}

var _ biz.Classifier = (*StaticClassifier)(nil)

// NewStaticClassifier 创建固定返回 label 的分类器
func NewStaticClassifier(label string) *StaticClassifier {
	return &StaticClassifier{label: label}
}

func (c *StaticClassifier) Predict(ctx context.Context, _ biz.ClassifyInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.label, nil
}
