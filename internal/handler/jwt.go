package handler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"casinopay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	ctxUserID   = "user_id"
	ctxUsername = "username"
	ctxRole     = "role"
)

// Claims are issued by the account service; this service only verifies them.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type JWTMiddleware struct {
	secret []byte
	log    *logrus.Logger
}

func NewJWTMiddleware(secret string, log *logrus.Logger) *JWTMiddleware {
	return &JWTMiddleware{secret: []byte(secret), log: log}
}

// Auth requires a valid HS256 bearer token and stores the caller in the context.
func (m *JWTMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "authorization header is required")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header format")
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		})
		if err != nil || !token.Valid || claims.UserID <= 0 {
			m.log.WithError(err).Warn("rejected bearer token")
			response.Unauthorized(c, "invalid token")
			return
		}

		role := claims.Role
		if role == "" {
			role = RoleUser
		}
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxUsername, claims.Username)
		c.Set(ctxRole, role)
		c.Next()
	}
}

// AdminOnly must run after Auth.
func (m *JWTMiddleware) AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != RoleAdmin {
			response.Forbidden(c, "admin role required")
			return
		}
		c.Next()
	}
}

func (m *JWTMiddleware) GenerateToken(userID int64, username, role string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func GetUserID(c *gin.Context) (int64, error) {
	v, exists := c.Get(ctxUserID)
	if !exists {
		return 0, errors.New("user_id not found in context")
	}
	id, ok := v.(int64)
	if !ok {
		return 0, errors.New("invalid user_id type")
	}
	return id, nil
}

func GetUsername(c *gin.Context) string {
	return c.GetString(ctxUsername)
}
