package kasane

import (
	"io/fs"
	"log/slog"
)

// Option configures an Engine.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	databaseURL       string
	notifyURL         string
	logger            *slog.Logger
	version           string
	classifier        Classifier
	embeddingProvider EmbeddingProvider
	extractor         Extractor
	extraMigrations   []fs.FS
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithNotifyURL overrides the direct Postgres URL used for LISTEN/NOTIFY (NOTIFY_URL env var).
// Set this when using a connection pooler (e.g. PgBouncer) for queries: LISTEN/NOTIFY
// requires a direct (non-pooled) connection.
func WithNotifyURL(url string) Option {
	return func(o *resolvedOptions) { o.notifyURL = url }
}

// WithLogger sets the structured logger for the Engine.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithClassifier replaces the config-selected reasoning oracle
// (OpenAI/Ollama) for both classification and interpretation
// generation. Only the last call wins.
func WithClassifier(c Classifier) Option {
	return func(o *resolvedOptions) { o.classifier = c }
}

// WithEmbeddingProvider replaces the config-selected embedding provider (OpenAI/Ollama/noop).
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embeddingProvider = p }
}

// WithExtractor replaces the built-in paragraph extractor for source
// fragment extraction.
func WithExtractor(e Extractor) Option {
	return func(o *resolvedOptions) { o.extractor = e }
}

// WithExtraMigrations adds an additional SQL migration filesystem to run after
// the embedded migrations. Multiple filesystems may be registered; they are
// applied in registration order.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
