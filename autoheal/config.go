package autoheal

import (
	"os"

	"github.com/hazyhaar/selfheal/autoheal/internal/advisor"
	"github.com/hazyhaar/selfheal/autoheal/internal/config"
)

// Config is the top-level healer configuration. Re-exported from internal.
type Config = config.Config

// ReportConfig selects the record sinks.
type ReportConfig = config.ReportConfig

// BrowserConfig controls the Chrome instance used by the CLI.
type BrowserConfig = config.BrowserConfig

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfigFile reads a YAML configuration file over the defaults.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// Environment variables read by ConfigFromEnv. The scan command sets them
// for the test process it runs.
const (
	EnvConfig = "AUTOHEAL_CONFIG"
	EnvSQLite = "AUTOHEAL_SQLITE"
)

// ConfigFromEnv loads the file named by $AUTOHEAL_CONFIG, or the defaults
// when it is unset. $AUTOHEAL_SQLITE, when set, enables the SQLite sink at
// that path.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv(EnvConfig); path != "" {
		loaded, err := LoadConfigFile(path)
		if err != nil {
			return cfg, err
		}
		cfg = *loaded
	}
	if db := os.Getenv(EnvSQLite); db != "" {
		cfg.Report.SQLite = db
	}
	return cfg, nil
}

// Advisor proposes replacement locators for the generative strategy.
type Advisor = advisor.Advisor

// AdvisorRequest is what an Advisor is asked.
type AdvisorRequest = advisor.Request

func newAdvisor(cfg Config, h *Healer) Advisor {
	return advisor.New(advisor.Config{
		Provider:       cfg.ModelProvider,
		Endpoint:       cfg.ModelEndpoint,
		Model:          cfg.ModelName,
		APIKey:         cfg.ModelAPIKey,
		Timeout:        cfg.ModelTimeout,
		MaxSuggestions: cfg.MaxCandidates,
		Logger:         h.logger,
	})
}
