package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"case-forge/config"
	"case-forge/models"
	"case-forge/providers"
	"case-forge/storage"
)

const thinCoverageThreshold = 3

// EnrichContext sind die Seed-Felder eines Falls, aus denen gesucht wird.
type EnrichContext struct {
	CompanyName  string     `json:"companyName,omitempty"`
	Title        string     `json:"title,omitempty"`
	Ticker       string     `json:"ticker,omitempty"`
	ShortSummary string     `json:"shortSummary,omitempty"`
	PeriodStart  *time.Time `json:"periodStart,omitempty"`
	PeriodEnd    *time.Time `json:"periodEnd,omitempty"`
}

// Topic ist der Firmenname, sonst der Titel.
func (c EnrichContext) Topic() string {
	if s := strings.TrimSpace(c.CompanyName); s != "" {
		return s
	}
	return strings.TrimSpace(c.Title)
}

// ContextFromCase baut den Anreicherungskontext aus einem gespeicherten Fall.
func ContextFromCase(cs *models.CaseStudy) EnrichContext {
	return EnrichContext{
		CompanyName:  cs.CompanyName,
		Title:        cs.Title,
		Ticker:       cs.Ticker,
		ShortSummary: cs.ShortSummary,
		PeriodStart:  cs.PeriodStart,
		PeriodEnd:    cs.PeriodEnd,
	}
}

// EnrichmentStats ist die Diagnose eines Anreicherungslaufs. Die Synthese liest sie nicht.
type EnrichmentStats struct {
	Total            int             `json:"total"`
	ByProvider       map[string]int  `json:"byProvider"`
	ByType           map[string]int  `json:"byType"`
	Credentials      map[string]bool `json:"credentials"`
	QueriesTried     int             `json:"queriesTried"`
	Duplicates       int             `json:"duplicates"`
	RelaxedProviders []string        `json:"relaxedProviders,omitempty"`
	CachedProviders  []string        `json:"cachedProviders,omitempty"`
	FailedProviders  []string        `json:"failedProviders,omitempty"`
	Enhancer         *EnhancerStats  `json:"enhancer,omitempty"`
	DurationMS       int64           `json:"durationMs"`
}

// EnrichResult ist das Ergebnis von Enrich.
type EnrichResult struct {
	Sources []models.SourceItem `json:"sources"`
	Stats   EnrichmentStats     `json:"stats"`
}

// EnrichmentService verteilt eine Anfrage an alle passenden Connectors und sammelt die Treffer.
type EnrichmentService struct {
	Config     *config.Config
	Logger     *zap.Logger
	Connectors []providers.Connector
	Enhancer   *Enhancer
	Cases      CaseStore
	Audit      AuditLogger
}

// NewEnrichmentService erstellt einen neuen EnrichmentService. Die Reihenfolge der
// Connectors bestimmt die Reihenfolge der Quellen vor dem Ranking.
func NewEnrichmentService(cfg *config.Config, logger *zap.Logger, connectors []providers.Connector, enhancer *Enhancer, cases CaseStore, audit AuditLogger) *EnrichmentService {
	return &EnrichmentService{
		Config:     cfg,
		Logger:     logger,
		Connectors: connectors,
		Enhancer:   enhancer,
		Cases:      cases,
		Audit:      audit,
	}
}

type connectorOutcome struct {
	name   string
	result providers.Result
	err    error
}

// Enrich ruft alle anwendbaren Connectors parallel auf. Ein fehlschlagender Connector
// bricht den Lauf nie ab; nur ein leerer Kontext ist ein Fehler.
func (s *EnrichmentService) Enrich(ctx context.Context, ec EnrichContext) (*EnrichResult, error) {
	topic := ec.Topic()
	if topic == "" && strings.TrimSpace(ec.ShortSummary) == "" {
		return nil, newSynthesisError(CodeInvalidInput, errors.New("company name, title or short summary required"))
	}
	started := time.Now()
	log := s.Logger.With(zap.String("topic", topic))

	q := providers.Query{
		Topic:          topic,
		Ticker:         strings.ToUpper(strings.TrimSpace(ec.Ticker)),
		Summary:        strings.TrimSpace(ec.ShortSummary),
		RequiredTokens: providers.RequiredTokens(topic),
		From:           ec.PeriodStart,
		To:             ec.PeriodEnd,
	}

	outcomes := s.fanOut(ctx, q)

	stats := EnrichmentStats{
		ByProvider:  map[string]int{},
		ByType:      map[string]int{},
		Credentials: s.credentials(),
	}
	var raw []models.SourceItem
	for _, o := range outcomes {
		if o.err != nil {
			log.Error("Connector fehlgeschlagen", zap.String("provider", o.name), zap.Error(o.err))
			stats.FailedProviders = append(stats.FailedProviders, o.name)
			continue
		}
		stats.QueriesTried += o.result.QueriesTried
		if o.result.Relaxed {
			stats.RelaxedProviders = append(stats.RelaxedProviders, o.name)
		}
		if o.result.Cached {
			stats.CachedProviders = append(stats.CachedProviders, o.name)
		}
		log.Info("Connector hat Ergebnisse geliefert", zap.String("provider", o.name), zap.Int("count", len(o.result.Items)))
		raw = append(raw, o.result.Items...)
	}

	sources := DedupSources(raw)
	stats.Duplicates = len(raw) - len(sources)

	if s.Enhancer != nil && thinCoverage(sources) {
		log.Info("Dünne Quellenlage, starte Enhancer", zap.Int("sources", len(sources)))
		added, es := s.Enhancer.Enhance(ctx, q)
		merged := DedupSources(append(sources, added...))
		es.Added = len(merged) - len(sources)
		stats.Enhancer = &es
		sources = merged
	}

	for _, src := range sources {
		stats.ByProvider[src.Provider]++
		stats.ByType[src.Type]++
		enrichmentSourcesCounter.WithLabelValues(src.Provider).Inc()
	}
	stats.Total = len(sources)
	stats.DurationMS = time.Since(started).Milliseconds()

	log.Info("Anreicherung abgeschlossen", zap.Int("total", stats.Total), zap.Int("duplicates", stats.Duplicates))
	return &EnrichResult{Sources: sources, Stats: stats}, nil
}

// fanOut wartet auf alle Connectors. Jeder Task schreibt nur in seinen eigenen Slot
// und gibt nie einen Fehler an die Gruppe zurück.
func (s *EnrichmentService) fanOut(ctx context.Context, q providers.Query) []connectorOutcome {
	var active []providers.Connector
	for _, c := range s.Connectors {
		if c.Applicable(q) {
			active = append(active, c)
		}
	}

	outcomes := make([]connectorOutcome, len(active))
	var g errgroup.Group
	for i, c := range active {
		g.Go(func() error {
			outcomes[i].name = c.Name()
			defer func() {
				if r := recover(); r != nil {
					outcomes[i].err = fmt.Errorf("panic: %v", r)
				}
			}()
			outcomes[i].result = c.Fetch(ctx, q)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *EnrichmentService) credentials() map[string]bool {
	cfg := s.Config
	return map[string]bool{
		"newsapi": cfg.NewsAPIKey != "",
		"gnews":   cfg.GNewsKey != "",
		"fmp":     cfg.FMPKey != "",
		"llm":     cfg.LLMAPIKey != "",
	}
}

// thinCoverage: weniger als drei Quellen oder gar keine Nachrichten.
func thinCoverage(sources []models.SourceItem) bool {
	if len(sources) < thinCoverageThreshold {
		return true
	}
	for _, s := range sources {
		if s.Type == models.SourceTypeNews {
			return false
		}
	}
	return true
}

// DedupSources entfernt Duplikate nach url|title und behält die erste Fundstelle.
func DedupSources(items []models.SourceItem) []models.SourceItem {
	seen := make(map[string]bool, len(items))
	out := make([]models.SourceItem, 0, len(items))
	for _, it := range items {
		key := it.DedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}

// EnrichCase reichert einen gespeicherten Fall an und schreibt die Quellen zurück.
func (s *EnrichmentService) EnrichCase(ctx context.Context, caseID uint) (*EnrichResult, error) {
	cs, err := s.Cases.GetCase(ctx, caseID)
	if err != nil {
		if errors.Is(err, storage.ErrCaseNotFound) {
			return nil, newSynthesisError(CodeNotFound, err)
		}
		return nil, newSynthesisError(CodePersistError, err)
	}

	ec := ContextFromCase(cs)
	s.audit(ctx, caseID, models.PhaseEnrichmentStart, ec, nil, "")

	res, err := s.Enrich(ctx, ec)
	if err != nil {
		s.audit(ctx, caseID, models.PhaseEnrichmentComplete, ec, nil, err.Error())
		return nil, err
	}

	if err := s.Cases.SaveSources(ctx, caseID, res.Sources); err != nil {
		s.Logger.Error("Quellen konnten nicht gespeichert werden", zap.Uint("case_id", caseID), zap.Error(err))
		s.audit(ctx, caseID, models.PhaseEnrichmentComplete, ec, res.Stats, err.Error())
		return nil, newSynthesisError(CodePersistError, err)
	}
	s.audit(ctx, caseID, models.PhaseEnrichmentComplete, ec, res.Stats, "")
	return res, nil
}

// EnrichPending reichert bis zu limit Entwürfe ohne Quellen an. Fehler einzelner
// Fälle werden geloggt und übersprungen.
func (s *EnrichmentService) EnrichPending(ctx context.Context, limit int) (int, error) {
	cases, err := s.Cases.ListCasesNeedingEnrichment(ctx, limit)
	if err != nil {
		s.Logger.Error("Fehler beim Abrufen offener Fälle", zap.Error(err))
		return 0, err
	}

	done := 0
	for _, cs := range cases {
		if _, err := s.EnrichCase(ctx, cs.ID); err != nil {
			s.Logger.Error("Fehler beim Anreichern des Falls", zap.Uint("case_id", cs.ID), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

func (s *EnrichmentService) audit(ctx context.Context, caseID uint, phase string, input, output any, errMsg string) {
	if s.Audit == nil {
		return
	}
	s.Audit.Append(ctx, storage.AuditEntry{
		CaseStudyID: caseID,
		Phase:       phase,
		Input:       toJSON(input),
		Output:      toJSON(output),
		Error:       errMsg,
	})
}

func toJSON(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
