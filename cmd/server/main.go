package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"
	flags "github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"

	"github.com/ButyrinIA/blogpress/internal/auth"
	"github.com/ButyrinIA/blogpress/internal/blob"
	"github.com/ButyrinIA/blogpress/internal/cache"
	"github.com/ButyrinIA/blogpress/internal/config"
	"github.com/ButyrinIA/blogpress/internal/graphql"
	"github.com/ButyrinIA/blogpress/internal/presence"
	"github.com/ButyrinIA/blogpress/internal/search"
	"github.com/ButyrinIA/blogpress/internal/server"
	"github.com/ButyrinIA/blogpress/internal/storage"
	"github.com/ButyrinIA/blogpress/internal/storage/memory"
	"github.com/ButyrinIA/blogpress/internal/storage/postgres"
)

type Opts struct {
	Config  string `short:"c" long:"config" env:"CONFIG" default:"config.yaml" description:"путь к файлу конфигурации"`
	Storage string `long:"storage" env:"STORAGE" default:"memory" choice:"memory" choice:"postgres" description:"тип хранилища"`
	Port    string `long:"port" env:"PORT" description:"порт сервера, перекрывает конфигурацию"`
	Dbg     bool   `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	fmt.Printf("blogpress %s\n", revision)

	var opts Opts
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	setupLog(opts.Dbg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts Opts) (err error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}
	if opts.Port != "" {
		cfg.Server.Port = opts.Port
	}

	var closers []io.Closer
	defer func() {
		if cerr := closeAll(closers); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}()

	store, err := newStorage(ctx, opts.Storage, cfg)
	if err != nil {
		return err
	}
	closers = append(closers, store)

	authSvc := auth.NewService(cfg.Auth.Secret, cfg.Auth.TokenTTL, cfg.Auth.UploadTTL)
	blobs := blob.NewFileSystem(cfg.Blob.Location, cfg.Blob.Staging, cfg.Blob.MaxSize, cfg.Server.BaseURL)
	hub := presence.NewHub(cfg.Presence.TTL)

	resolverOpts := []graphql.Option{
		graphql.WithBlobs(blobs),
		graphql.WithTokens(authSvc),
		graphql.WithPresence(hub),
		graphql.WithBaseURL(cfg.Server.BaseURL),
		graphql.WithCache(cache.NewTagged[*graphql.PaginatedPosts](cfg.Cache.Size, cfg.Cache.TTL)),
	}
	if cfg.Search.Engine == config.EngineBleve {
		engine, err := search.NewBleve(cfg.Search.IndexPath)
		if err != nil {
			return fmt.Errorf("не удалось открыть поисковый индекс: %w", err)
		}
		closers = append(closers, engine)
		n, err := engine.Rebuild(ctx, store)
		if err != nil {
			return fmt.Errorf("не удалось построить поисковый индекс: %w", err)
		}
		log.Printf("[INFO] поисковый индекс bleve готов, постов: %d", n)
		resolverOpts = append(resolverOpts, graphql.WithSearch(engine.Resolver()), graphql.WithIndexer(engine))
	}

	srv := server.New(cfg, server.Deps{
		Storage:  store,
		Resolver: graphql.NewResolver(store, resolverOpts...),
		Auth:     authSvc,
		Blobs:    blobs,
		Version:  revision,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error { return cleanupStaging(gctx, blobs, cfg.Blob.StagingTTL) })
	return g.Wait()
}

func newStorage(ctx context.Context, kind string, cfg *config.Config) (storage.Storage, error) {
	switch kind {
	case "postgres":
		log.Printf("[INFO] инициализация хранилища PostgreSQL")
		store, err := postgres.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("не удалось инициализировать PostgreSQL: %w", err)
		}
		return store, nil
	case "memory":
		log.Printf("[INFO] инициализация хранилища Memory")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("неизвестный тип хранилища: %s", kind)
	}
}

// cleanupStaging удаляет брошенные загрузки до отмены ctx
func cleanupStaging(ctx context.Context, blobs *blob.FileSystem, ttl time.Duration) error {
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := blobs.Cleanup(ctx, ttl); err != nil {
				log.Printf("[WARN] ошибка очистки загрузок: %v", err)
			}
		}
	}
}

func closeAll(closers []io.Closer) error {
	var errs *multierror.Error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func setupLog(dbg bool) {
	if dbg {
		log.Setup(log.Debug, log.CallerFile, log.CallerFunc, log.Msec, log.LevelBraces)
		return
	}
	log.Setup(log.Msec, log.LevelBraces)
}
