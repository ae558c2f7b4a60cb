package identity

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sudooom.storefront/internal/model"
	appErrors "sudooom.storefront/pkg/errors"
)

// Claims 宿主签发的访问令牌声明
// 签名由后端校验，客户端只读取身份信息
type Claims struct {
	UserID  model.FlexID `json:"user_id"`
	Role    string       `json:"role"`
	StoreID model.FlexID `json:"store_id"`
	jwt.RegisteredClaims
}

// Viewer 当前会话的观察者身份
type Viewer struct {
	UserID    string
	Role      model.SenderRole
	StoreID   string
	ExpiresAt time.Time
}

// Expired 令牌是否已过期（无过期时间视为不过期）
func (v Viewer) Expired(now time.Time) bool {
	return !v.ExpiresAt.IsZero() && !now.Before(v.ExpiresAt)
}

// ParseViewer 从访问令牌解析 viewer 身份（不验证签名）
func ParseViewer(token string) (Viewer, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return Viewer{}, appErrors.ErrInvalidToken
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	if err != nil {
		return Viewer{}, appErrors.ErrInvalidToken.Wrap(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.UserID == "" {
		return Viewer{}, appErrors.ErrInvalidToken
	}

	role := model.SenderRole(strings.ToUpper(claims.Role))
	if !role.Valid() {
		return Viewer{}, appErrors.ErrInvalidToken
	}

	v := Viewer{
		UserID:  string(claims.UserID),
		Role:    role,
		StoreID: string(claims.StoreID),
	}
	if claims.ExpiresAt != nil {
		v.ExpiresAt = claims.ExpiresAt.Time
	}
	return v, nil
}
