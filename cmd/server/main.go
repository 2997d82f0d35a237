package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/aihub/genai-rag/app/bootstrap"
	"github.com/aihub/genai-rag/app/router"
	"github.com/aihub/genai-rag/internal/logger"
	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"
)

func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	cfg := app.Config
	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil {
		app.Shutdown()
		log.Fatalf("invalid port %q: %v", cfg.Server.Port, err)
	}

	// 配置Beego全局设置
	web.BConfig.AppName = "genai-rag-api"
	web.BConfig.RunMode = web.PROD
	if cfg.Server.Env == "development" {
		web.BConfig.RunMode = web.DEV
	}
	web.BConfig.CopyRequestBody = true
	web.BConfig.WebConfig.AutoRender = false
	web.BConfig.MaxMemory = cfg.FileUpload.MaxSize
	web.BConfig.Listen.HTTPPort = port
	web.BConfig.Listen.ServerTimeOut = int64(cfg.Server.TimeoutSeconds)

	router.Init(web.BeeApp, app.RouterOptions())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		logger.Info("Shutting down", zap.String("signal", s.String()))
		app.Shutdown()
		os.Exit(0)
	}()

	logger.Info("Server listening", zap.Int("port", port), zap.String("env", cfg.Server.Env))
	web.Run()
}
