package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/bowerhall/bridgemem/internal/config"
	"github.com/bowerhall/bridgemem/internal/engine"
	"github.com/bowerhall/bridgemem/internal/logger"
	"github.com/bowerhall/bridgemem/internal/schedule"
	"github.com/bowerhall/bridgemem/internal/store"
)

func init() {
	godotenv.Load()
}

func main() {
	heartbeatNow := flag.Bool("heartbeat", false, "run one heartbeat pass and exit")
	statusChat := flag.String("status", "", "print memory status for a chat and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to open store", "error", err)
	}
	defer st.Close()

	// the scheduler collaborator shares the database through its own table
	if _, err := schedule.NewStore(st.DB()); err != nil {
		logger.Fatal("failed to init schedule store", "error", err)
	}

	eng, err := engine.New(st, cfg.FilesRoot, cfg.Engine)
	if err != nil {
		logger.Fatal("failed to create engine", "error", err)
	}

	ctx := context.Background()

	if *heartbeatNow {
		result, err := eng.RunHeartbeat(ctx)
		if err != nil {
			logger.Fatal("heartbeat failed", "error", err)
		}
		fmt.Printf("heartbeat %s: weekly=%d contradictions=%d chats=%d\n",
			result.RunID, result.WeeklyUpdated, result.ContradictionCount, result.ChatCount)
		return
	}

	if *statusChat != "" {
		printStatus(eng, *statusChat)
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.HeartbeatSchedule, func() {
		if _, err := eng.RunHeartbeat(ctx); err != nil {
			logger.Error("heartbeat failed", "error", err)
		}
	}); err != nil {
		logger.Fatal("invalid heartbeat schedule", "schedule", cfg.HeartbeatSchedule, "error", err)
	}
	c.Start()
	defer c.Stop()

	logger.Info("bridgemem running",
		"db", cfg.DBPath,
		"files", cfg.FilesRoot,
		"heartbeat", cfg.HeartbeatSchedule)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
}

func printStatus(eng *engine.Engine, chatID string) {
	status, err := eng.MemoryStatus(chatID)
	if err != nil {
		logger.Fatal("status failed", "chat", chatID, "error", err)
	}

	fmt.Printf("chat %s: session %d, turn %d, thread %q\n",
		status.ChatID, status.SessionNo, status.TurnCount, status.ThreadID)

	fmt.Println("\nfacts:")
	for _, f := range status.Facts {
		fmt.Printf("  %s %s %s (%.2f)\n", f.Subject, f.Predicate, f.Object, f.Confidence)
	}

	fmt.Println("\nopen loops:")
	for _, l := range status.OpenLoops {
		fmt.Printf("  %s\n", l.Text)
	}

	fmt.Println("\ncontradictions:")
	for _, c := range status.Contradictions {
		fmt.Printf("  %s %s: %v\n", c.Subject, c.Predicate, c.Objects)
	}

	fmt.Println("\nfiles:")
	for _, p := range status.FilePaths {
		fmt.Printf("  %s\n", p)
	}
}
