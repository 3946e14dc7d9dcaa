package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/user/flicklog/internal/logging"
	"github.com/user/flicklog/internal/model"
	"github.com/user/flicklog/internal/utils"
)

const (
	ctxUserID = "user_id"
	ctxEmail  = "email"
)

// Claims 身份服务签发的 JWT（sub 为用户 UUID）
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Provisioner 首次见到用户时补建资料与个人空间
type Provisioner interface {
	Provision(ctx context.Context, userID uuid.UUID, email string) error
}

// RequireAuth 必须登录中间件
func RequireAuth(jwtSecret string, prov Provisioner) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := extractUser(c, jwtSecret)
		if err != nil {
			utils.Unauthorized(c, "")
			c.Abort()
			return
		}

		if prov != nil {
			if err := prov.Provision(c.Request.Context(), user.ID, user.Email); err != nil {
				logging.Error().Err(err).Str("user_id", user.ID.String()).Msg("[Auth] 初始化用户失败")
				utils.InternalServerError(c, "")
				c.Abort()
				return
			}
		}

		// 将用户信息存入上下文
		c.Set(ctxUserID, user.ID)
		c.Set(ctxEmail, user.Email)
		c.Next()
	}
}

// extractUser 从 Cookie 或 Header 中解析当前用户
func extractUser(c *gin.Context, jwtSecret string) (*model.CurrentUser, error) {
	var tokenString string

	// 优先从 Cookie 获取
	if cookie, err := c.Cookie("token"); err == nil && cookie != "" {
		tokenString = cookie
	} else {
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if tokenString == "" {
		return nil, jwt.ErrTokenMalformed
	}

	claims, err := ParseToken(tokenString, jwtSecret)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil || id == uuid.Nil {
		return nil, jwt.ErrTokenInvalidSubject
	}
	return &model.CurrentUser{ID: id, Email: claims.Email}, nil
}

// ParseToken 校验 HS256 签名与过期时间
func ParseToken(tokenString, jwtSecret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// GetUserID 从上下文获取用户 ID（未登录返回 uuid.Nil）
func GetUserID(c *gin.Context) uuid.UUID {
	if v, exists := c.Get(ctxUserID); exists {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

// GetCurrentUser 从上下文获取当前用户
func GetCurrentUser(c *gin.Context) model.CurrentUser {
	return model.CurrentUser{ID: GetUserID(c), Email: c.GetString(ctxEmail)}
}

// GenerateToken 生成与身份服务同格式的 Token（开发与测试用）
func GenerateToken(userID uuid.UUID, email, jwtSecret string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}
