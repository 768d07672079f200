package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/interfaces/http/response"
)

// OwnerKeyContextKey 认证通过后写入 gin.Context 的 key
const OwnerKeyContextKey = "owner_key"

// anonymousOwner 未启用认证时的统一归属标识
const anonymousOwner = "default"

// APIKeyAuth 静态 API Key 认证
// Key 从 X-API-Key 请求头读取，WebSocket 握手等场景可退回 api_key 查询参数；
// 配置中没有任何 Key 时认证关闭，所有请求归属 default
func APIKeyAuth(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Auth.APIKeys))
	for _, key := range cfg.Auth.APIKeys {
		if key != "" {
			allowed[key] = true
		}
	}

	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Set(OwnerKeyContextKey, anonymousOwner)
			c.Next()
			return
		}

		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = c.Query("api_key")
		}

		if !allowed[key] {
			response.Error(c, http.StatusUnauthorized, 401, "invalid or missing API key")
			c.Abort()
			return
		}

		c.Set(OwnerKeyContextKey, key)
		c.Next()
	}
}

// OwnerKey 读取当前请求的归属标识
func OwnerKey(c *gin.Context) string {
	if key, ok := c.Get(OwnerKeyContextKey); ok {
		if s, ok := key.(string); ok {
			return s
		}
	}
	return anonymousOwner
}
