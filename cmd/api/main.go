package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"mitsnews.org/internal/assets"
	"mitsnews.org/internal/auth"
	"mitsnews.org/internal/blob"
	"mitsnews.org/internal/config"
	"mitsnews.org/internal/httpapi"
	"mitsnews.org/internal/obs"
	"mitsnews.org/internal/store/pg"
	"mitsnews.org/internal/stream"
	"mitsnews.org/internal/submission"
	"mitsnews.org/internal/sweep"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.AuthSecret == "" {
		log.Fatal("missing MITSNEWS_AUTH_SECRET")
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		repo     submission.Repository
		profiles auth.ProfileStore
		probe    httpapi.ReadyProbe
		store    *pg.Store
	)
	if cfg.PGDSN != "" {
		store, err = pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		repo, profiles, probe = store, store, httpapi.ReadyProbe{DB: store.DB()}
	} else {
		mem := auth.NewMemoryProfiles()
		repo, profiles = submission.NewInMemory(mem), mem
		obs.Warn("in_memory_store", map[string]any{"reason": "MITSNEWS_PG_DSN is empty; data is lost on exit"})
	}

	blobs, media, err := openBlobStore(cfg)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	authn, err := auth.NewAuthenticator(cfg.AuthSecret, profiles,
		auth.WithIssuer(cfg.AuthIssuer), auth.WithAudience(cfg.AuthAudience))
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	events := stream.New()
	engine := submission.NewEngine(repo,
		submission.WithDBTimeout(cfg.DBTimeout),
		submission.WithPublisher(events))
	manager := assets.NewManager(blobs, repo,
		assets.WithMaxUploadBytes(cfg.MaxUploadBytes),
		assets.WithParallelism(cfg.UploadParallelism),
		assets.WithBlobTimeout(cfg.BlobTimeout),
		assets.WithDBTimeout(cfg.DBTimeout),
		assets.WithRetries(cfg.BlobRetries, 200*time.Millisecond),
		assets.WithPublisher(events))

	sweeper, err := sweep.New(manager, sweep.Config{Schedule: cfg.SweepSchedule, Retention: cfg.SweepRetention})
	if err != nil {
		log.Fatalf("sweep schedule: %v", err)
	}

	api := httpapi.New(probe, version, httpapi.Deps{
		Engine:   engine,
		Assets:   manager,
		Auth:     authn,
		Profiles: profiles,
		Stream:   events,
		Media:    media,
	},
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithUploadLimits(cfg.MaxUploadBytes, 20),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       2 * time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewGRPCServer(probe)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go health.Watch(ctx, 10*time.Second)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	sweeper.Start()

	obs.Info("starting", map[string]any{
		"version":      version,
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"blob_backend": cfg.BlobBackend,
		"postgres":     store != nil,
	})

	<-ctx.Done()
	obs.Info("shutting_down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	sweeper.Stop(shutdownCtx)
	if store != nil {
		_ = store.Close()
	}
	obs.Info("stopped", nil)
}

// openBlobStore builds the configured backend. Local backends also return the
// handler serving their files under /media/.
func openBlobStore(cfg config.Config) (blob.Store, http.Handler, error) {
	switch strings.ToLower(cfg.BlobBackend) {
	case config.BlobDir:
		d, err := blob.NewDir(cfg.BlobDir, cfg.BlobPublicBase)
		if err != nil {
			return nil, nil, err
		}
		return d, http.FileServer(http.Dir(d.Root())), nil
	case config.BlobOSS:
		o, err := blob.NewOSS(blob.OSSConfig{
			Endpoint:   cfg.OSSEndpoint,
			AccessKey:  cfg.OSSAccessKey,
			SecretKey:  cfg.OSSSecretKey,
			Bucket:     cfg.OSSBucket,
			PublicBase: cfg.OSSPublicBase,
		})
		if err != nil {
			return nil, nil, err
		}
		return o, nil, nil
	default:
		m := blob.NewMemory(cfg.BlobPublicBase)
		return m, m, nil
	}
}
