package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "customer-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// ValidatorConfig holds settings for the URL validator.
type ValidatorConfig struct {
	// Tiers is the comma-separated minimum tier set the pipeline requires
	// ("structure", "structure,dns", "structure,dns,http").
	Tiers string `json:"tiers" yaml:"tiers" mapstructure:"tiers"`

	// DNSTimeout bounds a single host lookup (default 2s).
	DNSTimeout time.Duration `json:"dns_timeout" yaml:"dns_timeout" mapstructure:"dns_timeout"`

	// HTTPTimeout bounds a single existence probe (default 2s).
	HTTPTimeout time.Duration `json:"http_timeout" yaml:"http_timeout" mapstructure:"http_timeout"`

	// MaxRedirects caps redirects followed by the probe (default 5).
	MaxRedirects int `json:"max_redirects" yaml:"max_redirects" mapstructure:"max_redirects"`

	// CacheTTL is how long DNS and HTTP outcomes are remembered (default 1h).
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl" mapstructure:"cache_ttl"`

	// CacheSize caps the number of hosts held per cache (default 10000).
	CacheSize int `json:"cache_size" yaml:"cache_size" mapstructure:"cache_size"`

	// ProbesPerSecond rate-limits HTTP probes across all workers (default 20).
	ProbesPerSecond float64 `json:"probes_per_second" yaml:"probes_per_second" mapstructure:"probes_per_second"`

	// BatchSize is the chunk size for batch validation (default 8).
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`

	// UserAgent is sent with HTTP probes.
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// AnalysisProvider selects the external analysis service implementation.
type AnalysisProvider string

const (
	ProviderNone      AnalysisProvider = "none"
	ProviderHTTP      AnalysisProvider = "http"
	ProviderOpenAI    AnalysisProvider = "openai"
	ProviderAnthropic AnalysisProvider = "anthropic"
	ProviderOllama    AnalysisProvider = "ollama"
)

// AnalysisConfig holds settings for the analysis gateway and its service.
type AnalysisConfig struct {
	// Provider selects the service: none, http, openai, anthropic, or ollama.
	Provider AnalysisProvider `json:"provider" yaml:"provider" mapstructure:"provider"`

	// Endpoint is the service URL for the http provider, or the server URL for ollama.
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`

	// Model is the model identifier for LLM providers.
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the service.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxAttempts is the number of calls per batch before falling back (default 3).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`

	// BaseTimeout is the first attempt's timeout; attempt n gets n*BaseTimeout (default 20s).
	BaseTimeout time.Duration `json:"base_timeout" yaml:"base_timeout" mapstructure:"base_timeout"`

	// RetryDelay is the pause before attempt n+1, multiplied by n (default 500ms).
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay" mapstructure:"retry_delay"`

	// PayloadBudget caps the characters of candidate data sent per batch (default 12000).
	PayloadBudget int `json:"payload_budget" yaml:"payload_budget" mapstructure:"payload_budget"`

	// BatchSize is the number of candidates per service call (default 40).
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`

	// MinCandidates is the minimum candidate count worth sending to the
	// service; below it the gateway goes straight to fallback (default 1).
	MinCandidates int `json:"min_candidates" yaml:"min_candidates" mapstructure:"min_candidates"`
}

// AggregateConfig holds settings for cross-source merging.
type AggregateConfig struct {
	// ConfidenceDelta is how much higher a later record's confidence must be
	// to replace the kept record (default 0.15).
	ConfidenceDelta float64 `json:"confidence_delta" yaml:"confidence_delta" mapstructure:"confidence_delta"`
}

// StoreDriver selects the JobStore backing.
type StoreDriver string

const (
	StoreMemory StoreDriver = "memory"
	StoreSQLite StoreDriver = "sqlite"
)

// StoreConfig holds settings for the job store.
type StoreConfig struct {
	Driver StoreDriver `json:"driver" yaml:"driver" mapstructure:"driver"`

	// Path is the SQLite database file for the sqlite driver.
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

// WorkerConfig holds settings for the orchestrator and its workers.
type WorkerConfig struct {
	// Workers is the number of long-lived worker loops (default 2).
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// DefaultMaxResults applies when a submission does not set one (default 20).
	DefaultMaxResults int `json:"default_max_results" yaml:"default_max_results" mapstructure:"default_max_results"`

	// LogWindow is the number of recent log entries kept per job (default 50).
	LogWindow int `json:"log_window" yaml:"log_window" mapstructure:"log_window"`

	// Retention is how long terminal jobs stay queryable (default 1h).
	Retention time.Duration `json:"retention" yaml:"retention" mapstructure:"retention"`

	// JanitorInterval is how often expired jobs are swept (default 15m).
	JanitorInterval time.Duration `json:"janitor_interval" yaml:"janitor_interval" mapstructure:"janitor_interval"`

	// ParallelSources runs source collaborators concurrently within a job.
	ParallelSources bool `json:"parallel_sources" yaml:"parallel_sources" mapstructure:"parallel_sources"`
}

// LogConfig holds process logging settings.
type LogConfig struct {
	Level string `json:"level" yaml:"level" mapstructure:"level"`
	File  string `json:"file" yaml:"file" mapstructure:"file"`
}

// SourceConfig describes one configured source collaborator.
type SourceConfig struct {
	// Name is the source identifier recorded on every candidate.
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// Kind is "static" or "page".
	Kind string `json:"kind" yaml:"kind" mapstructure:"kind"`

	// File is the YAML file for static sources.
	File string `json:"file,omitempty" yaml:"file,omitempty" mapstructure:"file"`

	// URLTemplate is the page URL for page sources; "{subject}" and
	// "{slug}" are substituted.
	URLTemplate string `json:"url_template,omitempty" yaml:"url_template,omitempty" mapstructure:"url_template"`

	// Selector is the CSS selector matching one customer element per match.
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty" mapstructure:"selector"`
}

// Config groups all component configurations.
type Config struct {
	HTTP      HTTPConfig      `json:"http" yaml:"http" mapstructure:"http"`
	Validator ValidatorConfig `json:"validator" yaml:"validator" mapstructure:"validator"`
	Aggregate AggregateConfig `json:"aggregate" yaml:"aggregate" mapstructure:"aggregate"`
	Analysis  AnalysisConfig  `json:"analysis" yaml:"analysis" mapstructure:"analysis"`
	Store     StoreConfig     `json:"store" yaml:"store" mapstructure:"store"`
	Worker    WorkerConfig    `json:"worker" yaml:"worker" mapstructure:"worker"`
	Log       LogConfig       `json:"log" yaml:"log" mapstructure:"log"`
	Sources   []SourceConfig  `json:"sources" yaml:"sources" mapstructure:"sources"`
}
