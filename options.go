package glowly

// Option configures an Orchestrator.
type Option func(*orchestratorConfig)

// orchestratorConfig holds configuration for Orchestrator construction.
type orchestratorConfig struct {
	// cfg holds tuning values and pool sizes.
	cfg Config

	// catalog lists the models to manage. Nil means DefaultCatalog.
	catalog *Catalog

	// loader produces models. Nil means a BuiltinLoader.
	loader ModelLoader

	// detector is the face-geometry capability. Required.
	detector FaceDetector

	// prefs is the user preference store.
	prefs PreferenceStore

	// sink receives analytics events.
	sink AnalyticsSink

	// logger receives diagnostic log messages. May be nil.
	logger Logger

	// pressure drives the memory governor. Nil derives one from cfg.
	pressure PressureSource
}

// newOrchestratorConfig returns an orchestratorConfig with default values.
func newOrchestratorConfig() *orchestratorConfig {
	return &orchestratorConfig{
		cfg:   DefaultConfig(),
		prefs: memoryPreferences{},
		sink:  noopSink{},
	}
}

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(c *orchestratorConfig) {
		c.cfg = cfg
	}
}

// WithCatalog sets the model catalog.
// If not set, DefaultCatalog is used minus Config.DisabledModels.
func WithCatalog(catalog *Catalog) Option {
	return func(c *orchestratorConfig) {
		c.catalog = catalog
	}
}

// WithModelLoader sets how models are produced.
// If not set, a BuiltinLoader honoring Config.PlaceholderModels is used.
func WithModelLoader(loader ModelLoader) Option {
	return func(c *orchestratorConfig) {
		c.loader = loader
	}
}

// WithDetector sets the face-geometry detector. Required.
func WithDetector(d FaceDetector) Option {
	return func(c *orchestratorConfig) {
		c.detector = d
	}
}

// WithPreferenceStore sets the user preference store.
// If not set, stored preferences are always empty and feedback is only
// kept in memory.
func WithPreferenceStore(s PreferenceStore) Option {
	return func(c *orchestratorConfig) {
		if s != nil {
			c.prefs = s
		}
	}
}

// WithAnalyticsSink sets the analytics sink.
// If not set, events are discarded.
func WithAnalyticsSink(s AnalyticsSink) Option {
	return func(c *orchestratorConfig) {
		if s != nil {
			c.sink = s
		}
	}
}

// WithLogger sets a logger for diagnostic output.
// If not set, logging is disabled.
func WithLogger(logger Logger) Option {
	return func(c *orchestratorConfig) {
		c.logger = logger
	}
}

// WithPressureSource sets the memory pressure signal for the governor.
// If not set and Config.HeapBudgetMB is positive, RuntimePressure is used;
// otherwise the governor never evicts.
func WithPressureSource(p PressureSource) Option {
	return func(c *orchestratorConfig) {
		c.pressure = p
	}
}

// Logger is the interface for diagnostic logging.
// Compatible with slog, zap, logrus, and other structured loggers.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, keysAndValues ...any)

	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, keysAndValues ...any)

	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, keysAndValues ...any)

	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, keysAndValues ...any)
}

// nopLogger discards everything. Used when no Logger is configured so that
// components never need nil checks.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func orNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
