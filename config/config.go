package config

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/vn-automata/automata/logging"
	"github.com/vn-automata/automata/rulespace"
	"github.com/vn-automata/automata/scorer"
	"github.com/vn-automata/automata/validator"
	"github.com/vn-automata/automata/weights"
)

const (
	defaultDataDirname = "data"
	defaultLogDirname  = "logs"
)

// Config defines the configuration options of the validator process.
//
// See the entrypoint for the loading+parsing order: defaults, config
// file, then command line flags.
//
//nolint:lll
type Config struct {
	AutomataDir string `long:"automatadir" description:"The base directory for data, logs and the configuration file"`
	ConfigFile  string `long:"configfile"  description:"Path to configuration file"                                   short:"c"`
	DataDir     string `long:"datadir"     description:"The directory to store the weights ledger within"             short:"b"`
	LogDir      string `long:"logdir"      description:"Directory to log output"`
	DebugLog    bool   `long:"debuglog"    description:"Enable debug logs"`
	JSONLog     bool   `long:"jsonlog"     description:"Whether to log in JSON format"`

	Miners []string `long:"miner" description:"Miner id served by the in-memory transport (repeatable)"`

	MetricsPort *uint16 `long:"metrics-port" description:"The port to expose metrics"`

	RuleSpace rulespace.Config `group:"RuleSpace" namespace:"rulespace"`
	Scorer    scorer.Config    `group:"Scorer"    namespace:"scorer"`
	Weights   weights.Config   `group:"Weights"   namespace:"weights"`
	Validator validator.Config `group:"Validator" namespace:"validator"`
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	automataDir := "./automata"
	if cacheDir, err := os.UserCacheDir(); err == nil {
		automataDir = filepath.Join(cacheDir, "automata")
	}

	return &Config{
		AutomataDir: automataDir,
		DataDir:     filepath.Join(automataDir, defaultDataDirname),
		LogDir:      filepath.Join(automataDir, defaultLogDirname),
		RuleSpace:   rulespace.DefaultConfig(),
		Scorer:      scorer.DefaultConfig(),
		Weights:     weights.DefaultConfig(),
		Validator:   validator.DefaultConfig(),
	}
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile overrides the given config with values from the config
// file, when one is configured.
func ReadConfigFile(cfg *Config) (*Config, error) {
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	logging.FromContext(context.Background()).Sugar().Debugf("reading config from %s", cfg.ConfigFile)
	if err := flags.IniParse(cfg.ConfigFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %v: %w", cfg.ConfigFile, err)
	}
	return cfg, nil
}

// SetupConfig expands paths and initializes the filesystem.
func SetupConfig(cfg *Config) (*Config, error) {
	// A custom base directory moves the default data and log dirs
	// under it, unless they were overridden themselves.
	defaultCfg := DefaultConfig()
	if cfg.AutomataDir != defaultCfg.AutomataDir {
		if cfg.DataDir == defaultCfg.DataDir {
			cfg.DataDir = filepath.Join(cfg.AutomataDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultCfg.LogDir {
			cfg.LogDir = filepath.Join(cfg.AutomataDir, defaultLogDirname)
		}
	}

	cfg.AutomataDir = cleanAndExpandPath(cfg.AutomataDir)
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	for _, dir := range []string{cfg.AutomataDir, cfg.DataDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return cfg, nil
}

// cleanAndExpandPath expands environment variables and a leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "~") {
		homeDir := os.Getenv("HOME")
		if u, err := user.Current(); err == nil {
			homeDir = u.HomeDir
		}
		path = strings.Replace(path, "~", homeDir, 1)
	}
	return filepath.Clean(os.ExpandEnv(path))
}
