// cmd/server/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/ohlushko/unobot/internal/cache"
	"github.com/ohlushko/unobot/internal/config"
	"github.com/ohlushko/unobot/internal/database"
	"github.com/ohlushko/unobot/internal/engine"
	"github.com/ohlushko/unobot/internal/models"
	"github.com/ohlushko/unobot/internal/rewards"
	"github.com/ohlushko/unobot/internal/scheduler"
)

// logMessenger is the default outbound sink: every room event goes to the
// structured log. A chat transport replaces this with its own adapter.
type logMessenger struct {
	log *logrus.Logger
}

func (m *logMessenger) Publish(ev models.Event) {
	m.log.WithFields(logrus.Fields{
		"type":  ev.Type,
		"chat":  ev.ChatID,
		"actor": ev.Actor,
		"next":  ev.NextPlayer,
	}).Info("room event")
}

type actionRequest struct {
	ChatID    int64             `json:"chat_id"`
	PlayerID  int64             `json:"player_id"`
	Type      engine.ActionType `json:"type"`
	CardIndex int               `json:"card_index"`
	Color     models.CardColor  `json:"color"`
	GroupKey  string            `json:"group_key"`
	Name      string            `json:"name"`
	Username  string            `json:"username"`
	Title     string            `json:"title"`
}

type actionResponse struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// actionHandler bridges HTTP to the engine: one POSTed action in, one result
// out. Chat transports talk to the same endpoint.
func actionHandler(logger *logrus.Logger, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req actionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		res, err := eng.HandleAction(r.Context(), engine.Action{
			ChatID:    req.ChatID,
			PlayerID:  req.PlayerID,
			Type:      req.Type,
			CardIndex: req.CardIndex,
			Color:     req.Color,
			GroupKey:  req.GroupKey,
			Name:      req.Name,
			Username:  req.Username,
			Title:     req.Title,
		})

		w.Header().Set("Content-Type", "application/json")
		resp := actionResponse{OK: res.OK, Code: string(res.Code)}
		switch {
		case err == nil:
		case errors.Is(err, engine.ErrNoSession):
			resp.Code = string(engine.CodeNoSession)
		case errors.Is(err, engine.ErrContention):
			resp.Code = string(engine.CodeTryAgainLater)
		default:
			logger.WithError(err).WithField("chat", req.ChatID).Error("action failed")
			w.WriteHeader(http.StatusInternalServerError)
			resp.Error = "internal error"
		}
		if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
			logger.WithError(encErr).Warn("response encode failed")
		}
	}
}

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	cfg := config.Load()
	ctx := context.Background()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("schema: %v", err)
	}

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	sched := scheduler.New(logger)
	defer sched.Shutdown()

	sessions := database.NewSessionRepo(pool)
	players := database.NewPlayerRepo(pool)

	eng := engine.New(engine.Deps{
		Store:     sessions,
		Scheduler: sched,
		Messenger: &logMessenger{log: logger},
		Rewards:   rewards.New(players, cfg, logger),
		Actions:   cache.NewActionQueue(rdb, ""),
		Config:    cfg,
		Log:       logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/action", actionHandler(logger, eng))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
