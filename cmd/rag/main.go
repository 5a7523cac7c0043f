package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"ragchat/internal/app"
	"ragchat/internal/config"
	"ragchat/internal/logger"
	"ragchat/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var cfgPath, sessionID string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/rag/config.yaml if not provided)")
	flag.StringVar(&sessionID, "session", "", "Resume the session with this id (a new id is generated if empty)")
	flag.Parse()
	inputs := flag.Args()
	if len(inputs) == 0 {
		fmt.Println("Usage: rag [--config=config.yaml] [--session=id] file1.txt [file2.md ...]")
		os.Exit(1)
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatal("failed to load config", "err", err)
	}

	// the terminal belongs to the TUI; logs only go to log.file
	l, closer, err := logger.NewFileOnly(cfg.Log)
	if err != nil {
		log.Fatal("failed to set up logging", "err", err)
	}
	defer closer.Close()

	comps, err := app.Build(cfg, l)
	if err != nil {
		log.Fatal("startup failed", "err", err)
	}

	ctx := context.Background()
	res, err := comps.RAG.Ingest(ctx, inputs)
	if err != nil {
		log.Fatal("ingest failed", "err", err)
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := comps.Chat.CreateOrResume(sessionID); err != nil {
		log.Fatal("invalid session", "session", sessionID, "err", err)
	}
	defer comps.Chat.End(sessionID)
	earlier, _ := comps.Chat.History(sessionID)

	m := tui.New(ctx, comps.Chat, sessionID, res.Summary, earlier)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		l.Error("tui exited", "err", err)
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Printf("Session %s saved. Resume with --session=%s\n", sessionID, sessionID)
}
