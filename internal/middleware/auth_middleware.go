package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"kidride-backend/internal/utils"
)

const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// JWTAuth проверяет токен из заголовка Authorization или параметра token
// (браузерный WebSocket не умеет передавать заголовки)
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Отсутствует токен авторизации"})
			return
		}

		claims, err := utils.ValidateToken(secret, tokenString)
		if err != nil {
			log.WithFields(log.Fields{
				"path":   c.Request.URL.Path,
				"remote": c.ClientIP(),
			}).WithError(err).Debug("Недействительный токен")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Недействительный токен"})
			return
		}

		if claims.UserID == "" && claims.Role != utils.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Недействительный ID пользователя"})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

func extractToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}

// RequireRole пропускает только пользователей с одной из ролей. Администратор проходит всегда.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextRole)
		if role == utils.RoleAdmin {
			c.Next()
			return
		}
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Недостаточно прав"})
	}
}

// UserID идентификатор пользователя из токена
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// Role роль пользователя из токена
func Role(c *gin.Context) string {
	return c.GetString(ContextRole)
}
