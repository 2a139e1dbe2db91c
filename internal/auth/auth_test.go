package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ButyrinIA/blogpress/internal/models"
)

const secret = "your-secret-key"

func TestToken(t *testing.T) {
	svc := NewService(secret, time.Hour, time.Minute)
	pic := "http://example.com/a.png"

	token, err := svc.Token(models.User{ID: "user1", Name: "User One", Image: &pic})
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	parsedToken, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	require.NoError(t, err)
	assert.True(t, parsedToken.Valid)

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "user1", claims["user_id"])
	assert.Equal(t, "User One", claims["name"])
	assert.Equal(t, pic, claims["picture"])

	user, err := svc.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user1", user.ID)
	require.NotNil(t, user.Image)
	assert.Equal(t, pic, *user.Image)
}

func TestParse_Invalid(t *testing.T) {
	svc := NewService(secret, time.Hour, time.Minute)

	_, err := svc.Parse("")
	assert.ErrorIs(t, err, ErrEmptyToken)

	_, err = svc.Parse("invalid-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "user1",
		"exp":     time.Now().Add(time.Hour * 24).Unix(),
	})
	wrongKeyToken, _ := token.SignedString([]byte("wrong-key"))
	_, err = svc.Parse(wrongKeyToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "user1"}).SignedString([]byte(secret))
	_, err = svc.Parse(noExp)
	assert.ErrorIs(t, err, ErrInvalidToken, "Токен без срока действия должен отклоняться")

	_, err = svc.Token(models.User{})
	assert.Error(t, err)
}

func TestParse_Expired(t *testing.T) {
	svc := NewService(secret, time.Hour, time.Minute)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := svc.Token(models.User{ID: "user1"})
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestUploadToken(t *testing.T) {
	svc := NewService(secret, time.Hour, time.Minute)

	upload, err := svc.UploadToken(models.User{ID: "user1"})
	require.NoError(t, err)
	session, err := svc.Token(models.User{ID: "user1"})
	require.NoError(t, err)

	user, err := svc.ParseUploadToken(upload)
	require.NoError(t, err)
	assert.Equal(t, "user1", user.ID)

	_, err = svc.ParseUploadToken(session)
	assert.ErrorIs(t, err, ErrInvalidToken, "Сессионный токен не должен принимать загрузку")
	_, err = svc.Parse(upload)
	assert.ErrorIs(t, err, ErrInvalidToken, "Токен загрузки не должен давать сессию")
}

func TestMiddleware(t *testing.T) {
	svc := NewService(secret, time.Hour, time.Minute)
	token, err := svc.Token(models.User{ID: "user1", Name: "User One"})
	require.NoError(t, err)

	var got *models.User
	h := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = nil
		if u, ok := UserFromContext(r.Context()); ok {
			got = &u
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("Bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/query", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		require.NotNil(t, got)
		assert.Equal(t, "user1", got.ID)
	})

	t.Run("Query parameter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/query?token="+token, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		require.NotNil(t, got)
		assert.Equal(t, "User One", got.Name)
	})

	t.Run("Anonymous", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/query", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Nil(t, got)
		_, err := RequireUser(req.Context())
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("Invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/query", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestTokenHandler(t *testing.T) {
	svc := NewService(secret, time.Hour, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/auth/token?user=dev&name=Dev", nil)
	rr := httptest.NewRecorder()
	http.HandlerFunc(svc.TokenHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var response map[string]string
	err := json.NewDecoder(rr.Body).Decode(&response)
	require.NoError(t, err)
	require.NotEmpty(t, response["token"])

	user, err := svc.Parse(response["token"])
	require.NoError(t, err)
	assert.Equal(t, "dev", user.ID)
	assert.Equal(t, "Dev", user.Name)
}
