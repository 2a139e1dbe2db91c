package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/gorilla/websocket"

	"github.com/ButyrinIA/blogpress/internal/auth"
	"github.com/ButyrinIA/blogpress/internal/blob"
	"github.com/ButyrinIA/blogpress/internal/config"
	"github.com/ButyrinIA/blogpress/internal/graphql"
	"github.com/ButyrinIA/blogpress/internal/storage"
)

// Deps - сервисы, которые отдает HTTP слой
type Deps struct {
	Storage  storage.Storage
	Resolver *graphql.Resolver
	Auth     *auth.Service
	Blobs    *blob.FileSystem
	Version  string
}

type Server struct {
	cfg     *config.Config
	storage storage.Storage
	auth    *auth.Service
	blobs   *blob.FileSystem
	version string
	handler http.Handler
}

func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		storage: deps.Storage,
		auth:    deps.Auth,
		blobs:   deps.Blobs,
		version: deps.Version,
	}
	s.handler = s.routes(deps.Resolver)
	return s
}

// Run обслуживает HTTP до отмены ctx, затем корректно останавливает сервер
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              ":" + s.cfg.Server.Port,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] ошибка при остановке сервера: %v", err)
		}
	}()

	log.Printf("[INFO] запуск сервера на порту %s", s.cfg.Server.Port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to run server: %w", err)
	}
	log.Printf("[INFO] сервер остановлен")
	return nil
}

func (s *Server) routes(resolver *graphql.Resolver) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RealIP, rest.Recoverer(log.Default()))
	router.Use(middleware.Throttle(1000))
	router.Use(rest.AppInfo("blogpress", "ButyrinIA", s.version), rest.Ping)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	router.Use(corsMiddleware.Handler)

	// подписки по websocket живут дольше любого таймаута запроса
	router.Group(func(r chi.Router) {
		r.Use(logger.New(logger.Log(log.Default()), logger.WithBody, logger.Prefix("[INFO]")).Handler)
		r.Use(s.auth.Middleware, graphql.LoaderMiddleware(s.storage))
		r.Handle("/query", s.graphqlHandler(resolver))
	})

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(logger.New(logger.Log(log.Default()), logger.Prefix("[INFO]")).Handler)
		r.With(rest.SizeLimit(s.cfg.Blob.MaxSize+4096)).Post("/upload", s.uploadHandler)
		r.Get("/images/*", s.imageHandler)
		r.Get("/", playground.Handler("GraphQL playground", "/query"))
		if s.cfg.Auth.Dev {
			log.Printf("[WARN] включена выдача тестовых токенов на /auth/token")
			r.Get("/auth/token", s.auth.TokenHandler)
		}
	})

	return router
}

func (s *Server) graphqlHandler(resolver *graphql.Resolver) http.Handler {
	srv := handler.New(graphql.NewExecutableSchema(graphql.Config{Resolvers: resolver}))
	srv.AddTransport(transport.Websocket{
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		KeepAlivePingInterval: 10 * time.Second,
	})
	srv.AddTransport(transport.Options{})
	srv.AddTransport(transport.GET{})
	srv.AddTransport(transport.POST{})
	srv.Use(extension.Introspection{})
	return srv
}

// uploadHandler сохраняет обложку, переданную телом запроса.
// Параметр token должен содержать токен загрузки.
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.TokenFromRequest(r)
	}
	user, err := s.auth.ParseUploadToken(token)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusUnauthorized, err, "invalid upload token")
		return
	}

	id, err := s.blobs.Save(r.Context(), user.ID, r.Header.Get("Content-Type"), r.Body)
	switch {
	case errors.Is(err, blob.ErrTooLarge):
		rest.SendErrorJSON(w, r, log.Default(), http.StatusRequestEntityTooLarge, err, "image too large")
		return
	case errors.Is(err, blob.ErrNotImage), errors.Is(err, blob.ErrBadID):
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "can't accept image")
		return
	case err != nil:
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "can't save image")
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, rest.JSON{"storageId": id})
}

func (s *Server) imageHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	rd, meta, err := s.blobs.Load(r.Context(), id)
	if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrBadID) {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusNotFound, err, "image not found")
		return
	}
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "can't load image")
		return
	}
	defer rd.Close()

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	if meta.Committed {
		w.Header().Set("Cache-Control", "public, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	if _, err := io.Copy(w, rd); err != nil {
		log.Printf("[WARN] не удалось отдать изображение %s: %v", id, err)
	}
}
