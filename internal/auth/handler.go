package auth

import (
	"net/http"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"

	"github.com/ButyrinIA/blogpress/internal/models"
)

// TokenHandler выдает токены сессии без проверки личности. Только для локальной разработки
func (s *Service) TokenHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user := models.User{ID: strings.TrimSpace(q.Get("user")), Name: strings.TrimSpace(q.Get("name"))}
	if user.ID == "" {
		user.ID = "user1"
	}
	if user.Name == "" {
		user.Name = user.ID
	}
	if pic := q.Get("picture"); pic != "" {
		user.Image = &pic
	}

	token, err := s.Token(user)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "can't issue token")
		return
	}
	rest.RenderJSON(w, rest.JSON{"token": token})
}
