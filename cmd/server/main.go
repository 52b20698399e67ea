package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cxrscan/internal/classify"
	"cxrscan/internal/config"
	"cxrscan/internal/gate"
	"cxrscan/internal/gradcam"
	"cxrscan/internal/handlers"
	"cxrscan/internal/history"
	"cxrscan/internal/imaging"
	"cxrscan/internal/logging"
	"cxrscan/internal/model"
	"cxrscan/internal/pipeline"
)

var configPath = flag.String("config", "", "path to the YAML config file (defaults apply when empty)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0o755); err != nil {
		logger.Fatal("create history directory", zap.Error(err))
	}

	registry, err := model.Load(cfg.Model.Path, cfg.Model.MetadataPath, cfg.Model.Labels, cfg.Model.ImageSize)
	if err != nil {
		logger.Fatal("load model", zap.Error(err))
	}
	defer registry.Close()
	logger.Info("model loaded",
		zap.String("path", cfg.Model.Path),
		zap.Strings("labels", cfg.Model.Labels))

	explainer, err := gradcam.New(registry, registry.Meta(), cfg.GradCAM.Layer, cfg.GradCAM.Alpha, cfg.GradCAM.Colormap)
	if err != nil {
		logger.Fatal("configure explainer", zap.Error(err))
	}

	store, err := history.OpenBolt(cfg.History.Path, cfg.History.MaxItems)
	if err != nil {
		logger.Fatal("open history store", zap.Error(err))
	}
	defer store.Close()

	pipe := pipeline.New(
		imaging.NewPreprocessor(cfg.Model.ImageSize),
		gate.New(cfg.Gate.Threshold),
		registry,
		classify.New(registry, cfg.Model.Labels),
		explainer,
		store,
		logger,
	)

	router := gin.New()
	router.Use(gin.Recovery())
	handlers.New(pipe, store, cfg.Server.MaxUploadBytes, logger).Register(router)

	logger.Info("server starting", zap.String("addr", cfg.Server.Addr))
	if err := router.Run(cfg.Server.Addr); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
