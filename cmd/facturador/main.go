package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/yourorg/facturador/internal/billing"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := billing.LoadConfig()
	sessions := billing.NewSessionStore()
	renderer := billing.NewChromiumRenderer(cfg, logger)
	orch := billing.NewOrchestrator(renderer, logger)
	authority := billing.NewARCAAuthority(cfg, logger)
	workflow := billing.NewRegistrationWorkflow(authority, billing.NewTranscriptRecorder(), logger)
	svc := billing.NewService(cfg, sessions, orch, workflow, logger)

	r := chi.NewRouter()
	r.Mount("/billing", svc.Routes())

	addr := ":" + cfg.Port
	logger.Info("facturador api listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("server stopped", "error", err)
	}
}
