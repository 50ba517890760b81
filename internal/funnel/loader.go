package funnel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/ClareAI/astra-sip-agent/internal/adapters/crm"
	"github.com/ClareAI/astra-sip-agent/internal/domain"
	"github.com/ClareAI/astra-sip-agent/pkg/logger"
	"github.com/ClareAI/astra-sip-agent/pkg/redis"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	enrichedCacheID  = "enriched"
	enrichedCacheTTL = 24 * time.Hour
)

// QuestionRef is one question slot in the local funnel definition; display
// name, type and choices are joined in from CRM field metadata.
type QuestionRef struct {
	ID      int    `yaml:"id"`
	Comment string `yaml:"comment"`
}

// StageDef is one stage of the local funnel definition.
type StageDef struct {
	Name      string        `yaml:"name"`
	StatusID  int           `yaml:"status_id"`
	Questions []QuestionRef `yaml:"questions"`
}

// Definition is the funnel skeleton parsed from funnel.yaml.
type Definition struct {
	Stages []StageDef `yaml:"stages"`
}

// EnrichedConfig is the CRM-enriched funnel: full question metadata per
// stage plus the pipeline status id to report on each stage transition.
type EnrichedConfig struct {
	Stages    []domain.Stage `json:"stages"`
	StatusIDs []int          `json:"status_ids"`
}

// LoadDefinition parses the funnel skeleton from a YAML file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read funnel definition: %w", err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse funnel definition: %w", err)
	}
	if len(def.Stages) == 0 {
		return nil, fmt.Errorf("funnel definition has no stages")
	}
	return &def, nil
}

// Enrich joins the funnel skeleton with CRM custom-field metadata.
// Questions whose field id is unknown to CRM are dropped with a warning.
func Enrich(def *Definition, fields []crm.CustomField) *EnrichedConfig {
	fieldsByID := make(map[int]crm.CustomField, len(fields))
	for _, f := range fields {
		fieldsByID[f.ID] = f
	}

	cfg := &EnrichedConfig{
		Stages:    make([]domain.Stage, 0, len(def.Stages)),
		StatusIDs: make([]int, 0, len(def.Stages)),
	}
	total, enriched, skipped := 0, 0, 0
	for _, stage := range def.Stages {
		questions := make([]domain.Question, 0, len(stage.Questions))
		for _, ref := range stage.Questions {
			if ref.ID == 0 {
				continue
			}
			total++
			field, ok := fieldsByID[ref.ID]
			if !ok {
				skipped++
				logger.Base().Warn("Funnel question not found in CRM, dropped", zap.Int("field_id", ref.ID))
				continue
			}
			choices := append([]domain.EnumChoice(nil), field.Enums...)
			sort.Slice(choices, func(i, j int) bool { return choices[i].Sort < choices[j].Sort })
			questions = append(questions, domain.Question{
				ID:      ref.ID,
				Comment: ref.Comment,
				Name:    field.Name,
				Type:    domain.FieldType(field.Type),
				Choices: choices,
			})
			enriched++
		}
		cfg.Stages = append(cfg.Stages, domain.Stage{
			Name:      stage.Name,
			Questions: questions,
		})
		cfg.StatusIDs = append(cfg.StatusIDs, stage.StatusID)
	}

	logger.Base().Info("Funnel config enriched",
		zap.Int("stages", len(cfg.Stages)),
		zap.Int("questions", total),
		zap.Int("enriched", enriched),
		zap.Int("skipped", skipped))
	return cfg
}

// Loader builds the enriched funnel config at startup: enrich against live
// CRM metadata when possible, else fall back to the Redis cache, else to the
// local enriched file from a previous run.
type Loader struct {
	CRM          *crm.Client
	Redis        redis.RedisServiceInterface
	YAMLPath     string
	EnrichedPath string
}

// Load produces the enriched funnel config and refreshes both caches.
func (l *Loader) Load(ctx context.Context) (*EnrichedConfig, error) {
	def, err := LoadDefinition(l.YAMLPath)
	if err != nil {
		return nil, err
	}

	fields, err := l.CRM.GetCustomFields(ctx)
	if err != nil {
		logger.Base().Warn("CRM field metadata unavailable, trying cached funnel config", zap.Error(err))
		return l.loadCached(ctx)
	}

	cfg := Enrich(def, fields)
	l.saveCaches(ctx, cfg)
	return cfg, nil
}

func (l *Loader) saveCaches(ctx context.Context, cfg *EnrichedConfig) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		logger.Base().Error("Failed to marshal enriched funnel config", zap.Error(err))
		return
	}
	if l.EnrichedPath != "" {
		if err := os.WriteFile(l.EnrichedPath, data, 0o644); err != nil {
			logger.Base().Warn("Failed to write enriched funnel config", zap.Error(err))
		}
	}
	if l.Redis != nil {
		key := l.Redis.GenerateKey(redis.FUNNEL_CONFIG, enrichedCacheID)
		if err := l.Redis.SetValue(ctx, key, string(data), enrichedCacheTTL); err != nil {
			logger.Base().Warn("Failed to cache enriched funnel config in Redis", zap.Error(err))
		}
	}
}

func (l *Loader) loadCached(ctx context.Context) (*EnrichedConfig, error) {
	if l.Redis != nil {
		key := l.Redis.GenerateKey(redis.FUNNEL_CONFIG, enrichedCacheID)
		if raw, err := l.Redis.GetValue(ctx, key); err == nil {
			var cfg EnrichedConfig
			if err := json.Unmarshal([]byte(raw), &cfg); err == nil {
				logger.Base().Info("Loaded enriched funnel config from Redis cache")
				return &cfg, nil
			}
		}
	}

	data, err := os.ReadFile(l.EnrichedPath)
	if err != nil {
		return nil, fmt.Errorf("no usable funnel config: %w", err)
	}
	var cfg EnrichedConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse cached funnel config: %w", err)
	}
	logger.Base().Info("Loaded enriched funnel config from file", zap.String("path", l.EnrichedPath))
	return &cfg, nil
}
