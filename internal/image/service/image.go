package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/vision-backend/internal/image/biz"
	apperrors "github.com/lk2023060901/vision-backend/internal/pkg/errors"
	"github.com/lk2023060901/vision-backend/internal/pkg/database"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"github.com/lk2023060901/vision-backend/internal/pkg/response"
	"go.uber.org/zap"
)

const (
	ClassifyNone  = "none"
	ClassifySync  = "sync"
	ClassifyAsync = "async"

	// multipartOverhead 留给 multipart 边界和表单头的余量
	multipartOverhead = 1 << 20
)

// Config 上传配置
type Config struct {
	biz.Config `mapstructure:",squash"`
	// AutoClassify 上传后的默认分类方式：none, sync, async
	AutoClassify string `mapstructure:"auto_classify"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Config:       *biz.DefaultConfig(),
		AutoClassify: ClassifyNone,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if !validClassifyMode(c.AutoClassify) {
		return fmt.Errorf("invalid auto_classify %q, must be one of: none, sync, async", c.AutoClassify)
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max_upload_bytes must be > 0")
	}
	if c.MaxPixels < 0 {
		return errors.New("max_pixels must be >= 0")
	}
	return nil
}

func validClassifyMode(mode string) bool {
	return mode == ClassifyNone || mode == ClassifySync || mode == ClassifyAsync
}

// Enqueuer 异步分类队列，由 *queue.Worker 实现
type Enqueuer interface {
	Enqueue(ctx context.Context, imageID int64, force bool) error
}

// ImageService 图片 HTTP 接口
type ImageService struct {
	intake *biz.IntakeUseCase
	queue  Enqueuer
	cfg    *Config
	logger *logger.Logger
}

// NewImageService 创建图片服务。queue 为 nil 时不支持异步分类。
func NewImageService(intake *biz.IntakeUseCase, queue Enqueuer, cfg *Config, log *logger.Logger) *ImageService {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.L()
	}
	return &ImageService{
		intake: intake,
		queue:  queue,
		cfg:    cfg,
		logger: log.Named("image_service"),
	}
}

// RegisterRoutes 注册路由
func (s *ImageService) RegisterRoutes(r *gin.RouterGroup) {
	authed := r.Group("", OwnerAuth())

	images := authed.Group("/images")
	{
		images.POST("", s.UploadImage)
		images.GET("", s.FindImageByHash)
		images.GET("/:id", s.GetImage)
		images.GET("/:id/file", s.DownloadImage)
		images.POST("/:id/classify", s.ClassifyImage)
		images.DELETE("/:id", s.DeleteImage)
	}

	me := authed.Group("/me")
	{
		me.GET("/images", s.ListMyImages)
		me.GET("/image", s.GetCurrentImage)
		me.GET("/image/file", s.DownloadCurrentImage)
	}
}

// UploadImage 上传图片（multipart 字段 file）
func (s *ImageService) UploadImage(c *gin.Context) {
	ctx := c.Request.Context()
	log := s.logger.WithContext(ctx)

	mode := c.DefaultQuery("classify", s.cfg.AutoClassify)
	if !validClassifyMode(mode) {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, "classify must be one of: none, sync, async")
		return
	}
	if mode == ClassifyAsync && s.queue == nil {
		response.ErrorWithCode(c, apperrors.ErrServiceUnavail, "async classification is not configured")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes+multipartOverhead)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.HandleError(c, apperrors.Wrap(biz.ErrImageTooLarge, apperrors.ErrImageInvalidInput,
				fmt.Sprintf("upload exceeds %d bytes", s.cfg.MaxUploadBytes)))
			return
		}
		response.BadRequest(c, "invalid file or field name is not 'file'")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		response.HandleError(c, apperrors.Wrap(err, apperrors.ErrBadRequest, "failed to read upload"))
		return
	}

	ownerID := requester(c).OwnerID
	log.Debug("image upload",
		zap.String("filename", header.Filename),
		zap.Int("size", len(data)),
		zap.String("classify", mode),
	)

	res, err := s.intake.Ingest(ctx, biz.IngestRequest{
		Data:         data,
		DeclaredMIME: header.Header.Get("Content-Type"),
		OwnerID:      ownerID,
	})
	if err != nil {
		response.HandleError(c, err)
		return
	}

	resp := &UploadResponse{Image: toImageResponse(res.Image), Unique: res.IsNew}
	switch mode {
	case ClassifySync:
		label, err := s.intake.Classify(ctx, res.Image.ID)
		if err != nil {
			// 图片已保存，分类失败只在响应中标出
			resp.ClassificationError = apperrors.FormatError(apperrors.ExtractCode(err), apperrors.GetDetails(err))
		} else {
			resp.Image.Classification = &label
		}
	case ClassifyAsync:
		if !res.Image.Classified() {
			if err := s.queue.Enqueue(ctx, res.Image.ID, false); err != nil {
				log.Error("failed to enqueue classification", zap.Int64("image_id", res.Image.ID), zap.Error(err))
			} else {
				resp.Queued = true
			}
		}
	}

	if res.IsNew {
		response.Created(c, resp)
		return
	}
	response.Success(c, resp)
}

// GetImage 获取图片详情
func (s *ImageService) GetImage(c *gin.Context) {
	id, ok := imageID(c)
	if !ok {
		return
	}

	img, err := s.intake.GetImage(c.Request.Context(), id)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toImageResponse(img))
}

// FindImageByHash 按内容哈希查找图片，上传前可用于判断内容是否已存在
func (s *ImageService) FindImageByHash(c *gin.Context) {
	hash := c.Query("hash")
	if hash == "" {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, "hash query parameter is required")
		return
	}

	img, err := s.intake.FindByHash(c.Request.Context(), hash)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toImageResponse(img))
}

// DownloadImage 下载图片内容
func (s *ImageService) DownloadImage(c *gin.Context) {
	id, ok := imageID(c)
	if !ok {
		return
	}
	s.serveImage(c, id)
}

// ClassifyImage 分类图片。force=true 时覆盖已有标签，async=true 时加入队列。
func (s *ImageService) ClassifyImage(c *gin.Context) {
	id, ok := imageID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	force := c.Query("force") == "true"

	if c.Query("async") == "true" {
		if s.queue == nil {
			response.ErrorWithCode(c, apperrors.ErrServiceUnavail, "async classification is not configured")
			return
		}
		if _, err := s.intake.GetImage(ctx, id); err != nil {
			response.HandleError(c, err)
			return
		}
		if err := s.queue.Enqueue(ctx, id, force); err != nil {
			response.HandleError(c, apperrors.Wrap(err, apperrors.ErrServiceUnavail, "failed to enqueue classification"))
			return
		}
		c.JSON(http.StatusAccepted, response.Response{
			Code: apperrors.Success,
			Data: &ClassifyResponse{ID: id, Queued: true},
		})
		return
	}

	var (
		label string
		err   error
	)
	if force {
		label, err = s.intake.Reclassify(ctx, id)
	} else {
		label, err = s.intake.Classify(ctx, id)
	}
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, &ClassifyResponse{ID: id, Classification: label})
}

// DeleteImage 删除图片（所有者或管理员）
func (s *ImageService) DeleteImage(c *gin.Context) {
	id, ok := imageID(c)
	if !ok {
		return
	}

	if err := s.intake.Delete(c.Request.Context(), id, requester(c)); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}

// ListMyImages 列出当前调用者的图片，最新的在前
func (s *ImageService) ListMyImages(c *gin.Context) {
	var req ListImagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, "page must be >= 1 and page_size between 1 and 100")
		return
	}
	page, pageSize := database.NormalizePage(req.Page, req.PageSize)

	images, total, err := s.intake.ListImages(c.Request.Context(), requester(c).OwnerID, page, pageSize)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	items := make([]*ImageResponse, 0, len(images))
	for _, img := range images {
		items = append(items, toImageResponse(img))
	}

	response.Success(c, &ListImagesResponse{
		Items: items,
		Pagination: &PaginationResponse{
			Page:      page,
			PageSize:  pageSize,
			Total:     total,
			TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
		},
	})
}

// GetCurrentImage 获取当前调用者最新上传的图片
func (s *ImageService) GetCurrentImage(c *gin.Context) {
	img, err := s.intake.CurrentImage(c.Request.Context(), requester(c).OwnerID)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toImageResponse(img))
}

// DownloadCurrentImage 下载当前调用者最新上传的图片
func (s *ImageService) DownloadCurrentImage(c *gin.Context) {
	img, err := s.intake.CurrentImage(c.Request.Context(), requester(c).OwnerID)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	s.serveImage(c, img.ID)
}

// serveImage 输出图片内容。内容由哈希唯一确定，ETag 直接使用内容哈希。
func (s *ImageService) serveImage(c *gin.Context, id int64) {
	img, data, err := s.intake.OpenImage(c.Request.Context(), id)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	etag := `"` + img.ContentHash + `"`
	c.Header("ETag", etag)
	c.Header("Cache-Control", "private, max-age=31536000, immutable")
	if match := c.GetHeader("If-None-Match"); match != "" && strings.Contains(match, etag) {
		c.Status(http.StatusNotModified)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", img.StoredName))
	c.Data(http.StatusOK, img.MIME, data)
}

// imageID 解析路径参数 id，失败时已写入响应
func imageID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, "invalid image id")
		return 0, false
	}
	return id, true
}
