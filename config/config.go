package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Generatives Modell
	LLMProvider       string `envconfig:"LLM_PROVIDER" default:"gemini"`
	LLMAPIKey         string `envconfig:"LLM_API_KEY"`
	LLMBaseURL        string `envconfig:"LLM_BASE_URL" default:"https://generativelanguage.googleapis.com"`
	LLMModel          string `envconfig:"LLM_MODEL" default:"gemini-2.5-flash"`
	LLMFallbackModels string `envconfig:"LLM_FALLBACK_MODELS" default:"gemini-2.5-flash-lite,gemini-2.0-flash"`
	LLMMaxTokens      int64  `envconfig:"LLM_MAX_TOKENS" default:"8192"`
	AnthropicBaseURL  string `envconfig:"ANTHROPIC_BASE_URL"`

	// Prompt-Budgets (Snippet- und Volltext-Modus)
	SynthFullText           bool `envconfig:"SYNTH_FULLTEXT" default:"false"`
	SynthPerSourceChars     int  `envconfig:"SYNTH_PER_SOURCE_CHARS" default:"800"`
	SynthTotalChars         int  `envconfig:"SYNTH_TOTAL_CHARS" default:"9000"`
	SynthFullPerSourceChars int  `envconfig:"SYNTH_FULL_PER_SOURCE_CHARS" default:"20000"`
	SynthFullTotalChars     int  `envconfig:"SYNTH_FULL_TOTAL_CHARS" default:"60000"`
	LocalFallbackEnabled    bool `envconfig:"SYNTH_LOCAL_FALLBACK" default:"true"`

	// Quellen
	SnippetMaxChars   int    `envconfig:"SNIPPET_MAX_CHARS" default:"1200"`
	WikiEnabled       bool   `envconfig:"WIKI_ENABLED" default:"true"`
	WikiBaseURL       string `envconfig:"WIKI_BASE_URL" default:"https://en.wikipedia.org/w/api.php"`
	WikiFullMaxChars  int    `envconfig:"WIKI_FULL_MAX_CHARS" default:"20000"`
	NewsFullMaxChars  int    `envconfig:"NEWS_FULL_MAX_CHARS" default:"8000"`
	NewsTargetResults int    `envconfig:"NEWS_TARGET_RESULTS" default:"8"`

	NewsAPIKey          string `envconfig:"NEWSAPI_KEY"`
	NewsAPIBaseURL      string `envconfig:"NEWSAPI_BASE_URL" default:"https://newsapi.org"`
	NewsAPIStrictFilter bool   `envconfig:"NEWSAPI_STRICT_FILTER" default:"true"`

	GNewsKey          string        `envconfig:"GNEWS_KEY"`
	GNewsBaseURL      string        `envconfig:"GNEWS_BASE_URL" default:"https://gnews.io"`
	GNewsStrictFilter bool          `envconfig:"GNEWS_STRICT_FILTER" default:"true"`
	GNewsCacheTTL     time.Duration `envconfig:"GNEWS_CACHE_TTL" default:"6h"`

	FMPKey     string `envconfig:"FMP_KEY"`
	FMPBaseURL string `envconfig:"FMP_BASE_URL" default:"https://financialmodelingprep.com"`

	// Optionaler geteilter Cache statt In-Memory
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Archiv für Roh-Antworten des Modells (optional)
	ArchiveS3Key    string `envconfig:"ARCHIVE_S3_KEY"`
	ArchiveS3Secret string `envconfig:"ARCHIVE_S3_SECRET"`
	ArchiveS3URL    string `envconfig:"ARCHIVE_S3_URL"`
	ArchiveS3Region string `envconfig:"ARCHIVE_S3_REGION" default:"eu-central-1"`
	ArchiveS3Bucket string `envconfig:"ARCHIVE_S3_BUCKET"`
	BackupKeep      int    `envconfig:"BACKUP_KEEP" default:"4"`

	CronSchedule  string `envconfig:"ENRICH_CRON_SCHEDULE" default:"0 3 * * *"`
	CronBatchSize int    `envconfig:"ENRICH_CRON_BATCH" default:"10"`

	Debug            bool `envconfig:"DEBUG" default:"false"`
	LogAuditFailures bool `envconfig:"LOG_AUDIT_FAILURES" default:"false"`
	LogPreviewChars  int  `envconfig:"LOG_PREVIEW_CHARS" default:"4000"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Models liefert das Primärmodell gefolgt von den Fallback-Modellen, ohne Duplikate.
func (c *Config) Models() []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range append([]string{c.LLMModel}, strings.Split(c.LLMFallbackModels, ",")...) {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// ArchiveEnabled meldet, ob Roh-Antworten nach S3 archiviert werden sollen.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveS3URL != "" && c.ArchiveS3Bucket != ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
