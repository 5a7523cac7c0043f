package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"ragchat/internal/app"
	"ragchat/internal/config"
	"ragchat/internal/history"
	"ragchat/internal/logger"
	"ragchat/internal/server"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/rag/config.yaml if not provided)")
	flag.Parse()

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, cfgPath, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatal("failed to load config", "err", err)
	}

	l, closer, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatal("failed to set up logging", "err", err)
	}
	defer closer.Close()
	l.Info("starting", "app", cfg.App.Name, "version", cfg.App.Version, "config", cfgPath)

	comps, err := app.Build(cfg, l)
	if err != nil {
		l.Fatal("startup failed", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(cfg.Ingest.Paths) > 0 {
		res, err := comps.RAG.Ingest(ctx, cfg.Ingest.Paths)
		if err != nil {
			// serve anyway; documents can still be added through /preprocess
			l.Error("initial ingest failed", "paths", cfg.Ingest.Paths, "err", err)
		} else {
			l.Info("initial ingest done", "documents", res.Documents, "chunks", res.Chunks)
		}
	}

	srv := server.New(cfg, comps.Chat, comps.RAG, comps.Store, l)
	sweeper := history.NewSweeper(comps.Store, cfg.History.SweepSchedule, l)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	if err := g.Wait(); err != nil {
		l.Error("server exited", "err", err)
		closer.Close()
		os.Exit(1)
	}
}
