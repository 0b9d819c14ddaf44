package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Session 有效期：5 分钟
	SessionTTL = 5 * time.Minute

	// Token 签名者
	tokenIssuer = "posesync-relay"
)

var ErrInvalidToken = errors.New("无效的会话 Token")

// Claims 定义 JWT Claims
type Claims struct {
	ClientID     int32  `json:"client_id"`
	JoinCode     string `json:"join_code"`
	AllocationID string `json:"allocation_id"`
	jwt.RegisteredClaims
}

// TokenIssuer 签发与校验会话 Token
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer 创建签发器
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = SessionTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Generate 生成会话 Token
func (t *TokenIssuer) Generate(clientID int32, joinCode, allocationID string) (string, error) {
	now := t.now()
	claims := Claims{
		ClientID:     clientID,
		JoinCode:     joinCode,
		AllocationID: allocationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   fmt.Sprintf("client-%d", clientID),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify 验证并解析 Token
func (t *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// 验证签名算法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(t.now))

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
