package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClareAI/astra-sip-agent/internal/adapters/crm"
	"github.com/ClareAI/astra-sip-agent/internal/adapters/sip"
	"github.com/ClareAI/astra-sip-agent/internal/adapters/tts"
	"github.com/ClareAI/astra-sip-agent/internal/agent"
	"github.com/ClareAI/astra-sip-agent/internal/config"
	"github.com/ClareAI/astra-sip-agent/internal/core/session"
	"github.com/ClareAI/astra-sip-agent/internal/funnel"
	"github.com/ClareAI/astra-sip-agent/internal/handler"
	"github.com/ClareAI/astra-sip-agent/internal/llm"
	"github.com/ClareAI/astra-sip-agent/internal/repository"
	callsvc "github.com/ClareAI/astra-sip-agent/internal/services/call"
	"github.com/ClareAI/astra-sip-agent/internal/stt"
	"github.com/ClareAI/astra-sip-agent/pkg/logger"
	"github.com/ClareAI/astra-sip-agent/pkg/redis"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadConfigFromEnv()

	if _, err := logger.Init(os.Getenv("ENV")); err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Base()

	for _, dir := range []string{cfg.RecordingsDir, cfg.TTSTmpDir, cfg.HistoryDir, cfg.AnalysisDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal("Failed to create working directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	// Redis is optional: without it the funnel cache and session registry
	// degrade to local files and logs.
	var redisService redis.RedisServiceInterface
	var sessions callsvc.SessionRegistry
	var liveSessions handler.SessionGetter
	if cfg.RedisHost != "" {
		rs, err := redis.NewRedisService(&redis.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Warn("Redis unavailable, continuing without it", zap.Error(err))
		} else {
			redisService = rs
			manager := session.NewManager(rs)
			sessions = manager
			liveSessions = manager
			defer rs.Close()
		}
	}

	// SQLite journal is optional as well.
	var repo repository.CallRepositoryInterface
	if cfg.SQLitePath != "" {
		db, err := repository.NewDB(cfg.SQLitePath)
		if err != nil {
			log.Warn("Call journal unavailable, continuing without it", zap.Error(err))
		} else {
			repo = repository.NewCallRepository(db)
		}
	}

	crmClient := crm.NewClient(cfg.CRMSubdomain, cfg.CRMAccessToken)

	loader := &funnel.Loader{
		CRM:          crmClient,
		Redis:        redisService,
		YAMLPath:     cfg.FunnelYAMLPath,
		EnrichedPath: cfg.EnrichedPath,
	}
	funnelCfg, err := loader.Load(context.Background())
	if err != nil {
		log.Fatal("Failed to load funnel config", zap.Error(err))
	}

	historyStore, err := agent.NewHistoryStore(cfg.HistoryDir)
	if err != nil {
		log.Fatal("Failed to open history store", zap.Error(err))
	}

	chatClient := llm.NewChatClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	synthesizer := tts.NewClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID, cfg.ElevenLabsModelID, cfg.TTSTmpDir)
	analyzer := agent.NewAnalyzer(chatClient, cfg.PostCallModel, cfg.AnalysisDir)

	registry := callsvc.NewRegistry()
	controller := callsvc.NewController(
		callsvc.ControllerConfig{
			ResolveAttempts: cfg.ResolveAttempts,
			ResolveBackoff:  cfg.ResolveBackoff,
			RecordingsDir:   cfg.RecordingsDir,
			RingbackPath:    cfg.RingbackPath,
			STT: stt.Config{
				APIKey:   cfg.DeepgramAPIKey,
				Language: cfg.DeepgramLanguage,
				Model:    cfg.DeepgramModel,
			},
		},
		crmClient, chatClient, synthesizer,
		funnelCfg, historyStore, analyzer,
		registry, sessions, repo,
	)

	transport, err := sip.NewTransport(sip.Account{
		User:   cfg.SIPUser,
		Domain: cfg.SIPDomain,
		Passwd: cfg.SIPPasswd,
		Proxy:  cfg.SIPProxy,
	})
	if err != nil {
		log.Fatal("Failed to build SIP transport", zap.Error(err))
	}
	if err := transport.Start(controller); err != nil {
		log.Fatal("Failed to start SIP transport", zap.Error(err))
	}
	log.Info("SIP transport started",
		zap.String("user", cfg.SIPUser), zap.String("domain", cfg.SIPDomain))

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: handler.NewRouter(handler.NewHandler(registry, liveSessions, repo)),
	}
	go func() {
		log.Info("Observation API listening", zap.String("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Observation API failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	log.Info("Agent running", zap.Duration("tick", cfg.TickInterval))
	for {
		select {
		case <-ticker.C:
			controller.Tick()
		case sig := <-stop:
			log.Info("Shutting down", zap.String("signal", sig.String()))
			if c := registry.Current(); c != nil {
				c.Teardown()
				registry.Clear(c)
			}
			if err := transport.Stop(); err != nil {
				log.Warn("Transport stop failed", zap.Error(err))
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = httpServer.Shutdown(shutdownCtx)
			cancel()
			return
		}
	}
}
