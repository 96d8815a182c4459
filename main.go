package main

import (
	"context"
	"log"
	"os"
	"time"

	"careerpilot/internal/api"
	"careerpilot/internal/auth"
	"careerpilot/internal/config"
	"careerpilot/internal/redis"
	"careerpilot/internal/runtime"
	"careerpilot/internal/storage"
	"careerpilot/internal/store"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("CAREERPILOT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("CAREERPILOT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	rdb, err := redis.NewClient(cfg)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer rdb.Close()

	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	storeService := store.NewService(db)

	cleanCtx, cleanCancel := context.WithCancel(context.Background())
	defer cleanCancel()
	cleanInterval := time.Duration(cfg.BasicConfig.AttachmentCleanup) * time.Minute
	if cleanInterval <= 0 {
		cleanInterval = store.DefaultAttachmentCleanupInterval
	}
	storeService.StartAttachmentCleaner(cleanCtx, cleanInterval)

	manager, err := runtime.NewManager(context.Background(), cfg, storeService, rdb)
	if err != nil {
		log.Fatalf("init runtime: %v", err)
	}

	authService := auth.NewService(db, rdb, 24*time.Hour)
	fileBase := cfg.BasicConfig.FileBaseDir
	if fileBase == "" {
		fileBase = "./data/uploads"
	}
	attachmentTTL := time.Duration(cfg.BasicConfig.AttachmentTTL) * time.Minute
	if attachmentTTL <= 0 {
		attachmentTTL = store.DefaultAttachmentTTL
	}
	handlers := api.NewHandler(storeService, authService, manager, fileBase, attachmentTTL)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
