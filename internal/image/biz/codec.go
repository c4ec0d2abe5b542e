package biz

import (
	"bytes"
	"fmt"
	"image"
	"mime"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

// DefaultAllowedMIMETypes 既能解码又能重新编码的格式
var DefaultAllowedMIMETypes = []string{"image/jpeg", "image/png", "image/gif", "image/bmp", "image/tiff"}

type format struct {
	imaging imaging.Format
	ext     string
}

var formats = map[string]format{
	"image/jpeg": {imaging.JPEG, ".jpg"},
	"image/png":  {imaging.PNG, ".png"},
	"image/gif":  {imaging.GIF, ".gif"},
	"image/bmp":  {imaging.BMP, ".bmp"},
	"image/tiff": {imaging.TIFF, ".tiff"},
}

// 浏览器和工具仍在使用的非标准类型
var mimeAliases = map[string]string{
	"image/jpg":      "image/jpeg",
	"image/pjpeg":    "image/jpeg",
	"image/x-ms-bmp": "image/bmp",
	"image/x-bmp":    "image/bmp",
	"image/x-png":    "image/png",
}

// NormalizeMIME 转小写、去掉参数并解析常见别名
func NormalizeMIME(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	mt = strings.ToLower(strings.TrimSpace(mt))
	if alias, ok := mimeAliases[mt]; ok {
		return alias
	}
	return mt
}

// ExtensionFor 返回支持的 MIME 类型对应的存储扩展名
func ExtensionFor(mimeType string) string {
	return formats[NormalizeMIME(mimeType)].ext
}

// decoded 校验通过、待存储的上传
type decoded struct {
	img       image.Image
	mime      string
	ext       string
	canonical []byte
}

// codec 按白名单校验上传并生成规范编码
type codec struct {
	allowed   map[string]bool
	maxBytes  int64
	maxPixels int64
}

// newCodec 创建 codec，限制为 0 表示不检查
func newCodec(allowed []string, maxBytes, maxPixels int64) (*codec, error) {
	if len(allowed) == 0 {
		allowed = DefaultAllowedMIMETypes
	}
	c := &codec{allowed: make(map[string]bool, len(allowed)), maxBytes: maxBytes, maxPixels: maxPixels}
	for _, m := range allowed {
		m = NormalizeMIME(m)
		if _, ok := formats[m]; !ok {
			return nil, fmt.Errorf("mime type %q cannot be re-encoded", m)
		}
		c.allowed[m] = true
	}
	return c, nil
}

// check 校验声明的类型和大小，此时尚未解码
func (c *codec) check(data []byte, declaredMIME string) error {
	if len(data) == 0 {
		return invalidInput(ErrEmptyImage, "no image data")
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return invalidInput(ErrImageTooLarge, fmt.Sprintf("%d bytes exceeds the %d byte limit", len(data), c.maxBytes))
	}
	if declared := NormalizeMIME(declaredMIME); !c.allowed[declared] {
		return invalidInput(ErrUnsupportedMIME, fmt.Sprintf("content type %q is not accepted", declared))
	}
	return nil
}

// decode 识别真实格式，解码像素后按规范重新编码
func (c *codec) decode(data []byte) (*decoded, error) {
	detected := NormalizeMIME(mimetype.Detect(data).String())
	if !c.allowed[detected] {
		return nil, invalidInput(ErrCorruptImage, fmt.Sprintf("content is %s", detected))
	}

	// 只读文件头：完整解码的内存占用由声明的尺寸决定
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, invalidInput(fmt.Errorf("%w: %w", ErrCorruptImage, err), "corrupt image")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, invalidInput(ErrCorruptImage, "image has no pixels")
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); c.maxPixels > 0 && pixels > c.maxPixels {
		return nil, invalidInput(ErrImageTooLarge,
			fmt.Sprintf("%dx%d image exceeds the %d pixel limit", cfg.Width, cfg.Height, c.maxPixels))
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, invalidInput(fmt.Errorf("%w: %w", ErrCorruptImage, err), "corrupt image")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, invalidInput(ErrCorruptImage, "image has no pixels")
	}

	f := formats[detected]
	canonical, err := encode(img, f.imaging)
	if err != nil {
		return nil, invalidInput(fmt.Errorf("%w: %w", ErrCorruptImage, err), "image cannot be re-encoded")
	}

	return &decoded{img: img, mime: detected, ext: f.ext, canonical: canonical}, nil
}

func encode(img image.Image, f imaging.Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeStored 解码从 BlobStore 读回的规范字节
func decodeStored(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data))
}
