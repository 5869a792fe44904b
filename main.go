package main

import (
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"sidetrack/internal/database"
	"sidetrack/internal/server"
	"sidetrack/internal/services"
	"sidetrack/internal/utils"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	if err := utils.LoadEnv(); err != nil {
		slog.Debug("no .env loaded", "error", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if !database.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Init(database.Config{
		Path: os.Getenv("SIDETRACK_DB"),
	})
	if err != nil {
		slog.Error("database init failed", "error", err)
		os.Exit(1)
	}

	git := services.NewGitService()
	keys := services.NewKeyringService()
	modelKey := utils.Getenv("SIDETRACK_MODEL", "anthropic/claude-sonnet-4-20250514")

	svc := services.NewDbServices(db, git, keys, modelKey)
	srv := server.New(svc, git)

	addr := utils.Getenv("SIDETRACK_ADDR", ":8080")
	slog.Info("sidetrack listening", "addr", addr, "model", modelKey)
	if err := srv.Run(addr); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}
