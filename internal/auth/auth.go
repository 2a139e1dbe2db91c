// Package auth выдает и проверяет HS256 JWT и определяет пользователя запроса.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ButyrinIA/blogpress/internal/models"
)

const purposeUpload = "upload"

var (
	// ErrUnauthenticated возвращают операции, которым нужен пользователь
	ErrUnauthenticated = errors.New("authentication required")
	// ErrEmptyToken - токен не передан
	ErrEmptyToken = errors.New("empty token")
	// ErrInvalidToken - неверная подпись, истекший или испорченный токен
	ErrInvalidToken = errors.New("invalid token")
)

type claims struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	Purpose string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// Service подписывает и проверяет токены общим секретом
type Service struct {
	secret    []byte
	tokenTTL  time.Duration
	uploadTTL time.Duration
	now       func() time.Time
}

func NewService(secret string, tokenTTL, uploadTTL time.Duration) *Service {
	return &Service{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		uploadTTL: uploadTTL,
		now:       time.Now,
	}
}

// Token выдает токен сессии пользователю
func (s *Service) Token(user models.User) (string, error) {
	return s.sign(user, "", s.tokenTTL)
}

// UploadToken выдает короткоживущий токен, который принимает только загрузка файлов
func (s *Service) UploadToken(user models.User) (string, error) {
	return s.sign(user, purposeUpload, s.uploadTTL)
}

// Parse проверяет токен сессии и возвращает пользователя
func (s *Service) Parse(token string) (models.User, error) {
	c, err := s.parse(token)
	if err != nil {
		return models.User{}, err
	}
	if c.Purpose != "" {
		return models.User{}, fmt.Errorf("%w: unexpected purpose %q", ErrInvalidToken, c.Purpose)
	}
	return c.user(), nil
}

// ParseUploadToken проверяет токен, выданный UploadToken
func (s *Service) ParseUploadToken(token string) (models.User, error) {
	c, err := s.parse(token)
	if err != nil {
		return models.User{}, err
	}
	if c.Purpose != purposeUpload {
		return models.User{}, fmt.Errorf("%w: not an upload token", ErrInvalidToken)
	}
	return c.user(), nil
}

func (s *Service) sign(user models.User, purpose string, ttl time.Duration) (string, error) {
	if user.ID == "" {
		return "", errors.New("user id is required")
	}
	now := s.now()
	c := claims{
		UserID:  user.ID,
		Name:    user.Name,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if user.Image != nil {
		c.Picture = *user.Image
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

func (s *Service) parse(token string) (*claims, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || c.UserID == "" {
		return nil, ErrInvalidToken
	}
	return c, nil
}

func (c *claims) user() models.User {
	u := models.User{ID: c.UserID, Name: c.Name}
	if c.Picture != "" {
		pic := c.Picture
		u.Image = &pic
	}
	return u
}

type ctxKey struct{}

// WithUser кладет пользователя в контекст
func WithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// UserFromContext возвращает пользователя запроса, если он есть
func UserFromContext(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(models.User)
	return u, ok
}

// RequireUser - UserFromContext с ошибкой ErrUnauthenticated для анонимов
func RequireUser(ctx context.Context) (models.User, error) {
	u, ok := UserFromContext(ctx)
	if !ok {
		return models.User{}, ErrUnauthenticated
	}
	return u, nil
}

// TokenFromRequest достает bearer токен из заголовка Authorization,
// иначе из параметра token, который использует websocket.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// Middleware кладет пользователя валидного токена в контекст запроса.
// Запросы без токена проходят анонимно, с невалидным токеном отклоняются.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := s.Parse(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}
