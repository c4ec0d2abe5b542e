package service

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/vision-backend/internal/image/biz"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"github.com/lk2023060901/vision-backend/internal/pkg/response"
)

const (
	// HeaderOwnerID 由上游网关在认证后设置
	HeaderOwnerID   = "X-Owner-ID"
	HeaderOwnerRole = "X-Owner-Role"
	RoleAdmin       = "admin"

	ctxKeyOwnerID = "owner_id"
	ctxKeyAdmin   = "owner_admin"
)

// OwnerAuth 从网关设置的请求头中读取调用者身份
func OwnerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, err := strconv.ParseInt(strings.TrimSpace(c.GetHeader(HeaderOwnerID)), 10, 64)
		if err != nil || ownerID <= 0 {
			response.Unauthorized(c, "missing or invalid "+HeaderOwnerID+" header")
			return
		}

		c.Set(ctxKeyOwnerID, ownerID)
		c.Set(ctxKeyAdmin, strings.EqualFold(c.GetHeader(HeaderOwnerRole), RoleAdmin))
		c.Request = c.Request.WithContext(logger.WithOwnerID(c.Request.Context(), ownerID))

		c.Next()
	}
}

// requester 返回当前调用者
func requester(c *gin.Context) biz.Requester {
	return biz.Requester{
		OwnerID: c.GetInt64(ctxKeyOwnerID),
		Admin:   c.GetBool(ctxKeyAdmin),
	}
}
