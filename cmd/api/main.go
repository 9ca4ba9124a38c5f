package main

import (
	"context"
	"flag"
	"log"
	"time"

	"agreementvault/agreement"
	"agreementvault/blob"
	"agreementvault/config"
	"agreementvault/db"
	"agreementvault/identity"
	"agreementvault/integrity"
	"agreementvault/logging"
	"agreementvault/render"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (env vars override)")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("bootstrap config: %v", err)
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	pool, err := db.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	store, err := blob.NewMinioStore(ctx, blob.MinioConfig{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		Bucket:    cfg.Minio.Bucket,
		UseSSL:    cfg.Minio.UseSSL,
	})
	if err != nil {
		log.Fatalf("bootstrap blob store: %v", err)
	}

	identityService := identity.NewService(
		identity.NewRepository(pool),
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.TokenExpireHours)*time.Hour,
	)

	agreementService := agreement.NewService(
		pool,
		pool,
		render.NewRenderer(render.DefaultTokens()),
		store,
		integrity.NewHasher(store),
		identityService,
	)

	logging.Info(ctx, "agreement service ready", "port", cfg.Server.Port, "ready", agreementService != nil)
}
