package classifier

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Labels 类别下标到标签的映射
type Labels []string

// LoadLabels 每行读取一个标签。空行保留下标，使文件与模型输出层一一对应。
// 文件中没有任何非空标签时返回错误。
func LoadLabels(path string) (Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels file: %w", err)
	}
	defer f.Close()

	var labels Labels
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels file: %w", err)
	}
	if !labels.hasAny() {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

func (l Labels) hasAny() bool {
	for _, label := range l {
		if label != "" {
			return true
		}
	}
	return false
}

// Lookup 返回下标对应的标签
func (l Labels) Lookup(index int) (string, error) {
	if index < 0 || index >= len(l) {
		return "", fmt.Errorf("class index %d out of range [0, %d)", index, len(l))
	}
	if l[index] == "" {
		return "", fmt.Errorf("class index %d has no label", index)
	}
	return l[index], nil
}
