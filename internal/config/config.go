// Package config handles loading and validating the triplets.toml configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	homedir "github.com/mitchellh/go-homedir"
)

// ErrNotFound is returned by Load when the config file does not exist.
var ErrNotFound = errors.New("config file not found")

// Config is the top-level configuration.
type Config struct {
	Paths  PathsConfig  `toml:"paths"`
	Engine EngineConfig `toml:"engine"`
	Corpus CorpusConfig `toml:"corpus"`
	Output OutputConfig `toml:"output"`
	Log    LogConfig    `toml:"log"`
}

// PathsConfig locates every input and output directory of a run.
type PathsConfig struct {
	// EvtxDir is the root of the event log corpus.
	EvtxDir string `toml:"evtx_dir"`
	// SigmaDir holds the original Sigma rule documents. It is always indexed for
	// metadata and doubles as the active ruleset in sigma mode.
	SigmaDir string `toml:"sigma_dir"`
	// RulesetDir is searched for the pre-compiled ruleset in compiled mode.
	RulesetDir string `toml:"ruleset_dir"`
	// FieldMappings is the engine's field-mapping configuration file.
	FieldMappings string `toml:"field_mappings"`
	// ResultsDir receives one detection result file per log file.
	ResultsDir string `toml:"results_dir"`
	// OutputDir receives the dataset artifacts.
	OutputDir string `toml:"output_dir"`
}

// EngineConfig describes how the external detection engine is invoked.
type EngineConfig struct {
	// Command is the executable followed by any fixed leading arguments,
	// e.g. ["python3", "zircolite.py"].
	Command []string `toml:"command"`
	// Args is the per-file argument template. Placeholders: {input}, {ruleset},
	// {config}, {output}.
	Args []string `toml:"args"`
	// CompiledRulesetGlob selects the compiled ruleset inside RulesetDir.
	CompiledRulesetGlob string `toml:"compiled_ruleset_glob"`
	// TimeoutSeconds bounds a single engine run (0 = no timeout).
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Timeout returns TimeoutSeconds as a duration.
func (e EngineConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// CorpusConfig controls log file enumeration.
type CorpusConfig struct {
	Extension string   `toml:"extension"`
	Exclude   []string `toml:"exclude"`
}

// OutputConfig toggles optional artifacts.
type OutputConfig struct {
	IncludeEvents bool `toml:"include_events"`
	HTMLReport    bool `toml:"html_report"`
	SQLite        bool `toml:"sqlite"`
	Bundle        bool `toml:"bundle"`
	TopTechniques int  `toml:"top_techniques"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			EvtxDir:       "EVTX-ATTACK-SAMPLES",
			SigmaDir:      "sigma/rules/windows",
			RulesetDir:    "rules",
			FieldMappings: "config/fieldMappings.json",
			ResultsDir:    "results/detections",
			OutputDir:     "results",
		},
		Engine: EngineConfig{
			Command: []string{"python3", "zircolite.py"},
			Args: []string{
				"--evtx", "{input}",
				"--ruleset", "{ruleset}",
				"--config", "{config}",
				"--outfile", "{output}",
				"--nolog",
			},
			CompiledRulesetGlob: "rules_windows_generic*.json",
		},
		Corpus: CorpusConfig{
			Extension: ".evtx",
		},
		Output: OutputConfig{
			IncludeEvents: true,
			HTMLReport:    true,
			TopTechniques: 15,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a triplets.toml file on top of Default and returns a validated Config.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to Default when the file does
// not exist. Used when the config path was not given explicitly.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, ErrNotFound) {
		cfg = Default()
		if err := cfg.finish(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return cfg, err
}

func (c *Config) finish() error {
	// Environment variable overrides
	if cmd := os.Getenv("TRIPLETS_ENGINE_COMMAND"); cmd != "" {
		c.Engine.Command = strings.Fields(cmd)
	}
	if dir := os.Getenv("TRIPLETS_OUTPUT_DIR"); dir != "" {
		c.Paths.OutputDir = dir
	}
	if lvl := os.Getenv("TRIPLETS_LOG_LEVEL"); lvl != "" {
		c.Log.Level = lvl
	}

	if err := c.expandPaths(); err != nil {
		return err
	}
	return c.validate()
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.Paths.EvtxDir,
		&c.Paths.SigmaDir,
		&c.Paths.RulesetDir,
		&c.Paths.FieldMappings,
		&c.Paths.ResultsDir,
		&c.Paths.OutputDir,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

func (c *Config) validate() error {
	if c.Paths.EvtxDir == "" {
		return fmt.Errorf("paths.evtx_dir is required")
	}
	if c.Paths.SigmaDir == "" {
		return fmt.Errorf("paths.sigma_dir is required")
	}
	if c.Paths.ResultsDir == "" {
		return fmt.Errorf("paths.results_dir is required")
	}
	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = "results"
	}
	// Build reads every *.json in results_dir; the artifacts must not land there.
	if samePath(c.Paths.ResultsDir, c.Paths.OutputDir) {
		return fmt.Errorf("paths.results_dir and paths.output_dir must differ (both %s)", c.Paths.OutputDir)
	}

	if len(c.Engine.Command) == 0 {
		return fmt.Errorf("engine.command is required")
	}
	if !hasPlaceholder(c.Engine.Args, "{input}") || !hasPlaceholder(c.Engine.Args, "{output}") {
		return fmt.Errorf("engine.args must reference {input} and {output}")
	}
	if c.Engine.TimeoutSeconds < 0 {
		return fmt.Errorf("engine.timeout_seconds must not be negative")
	}
	if c.Engine.CompiledRulesetGlob == "" {
		c.Engine.CompiledRulesetGlob = "*.json"
	}

	c.Corpus.Extension = strings.ToLower(c.Corpus.Extension)
	if c.Corpus.Extension == "" {
		c.Corpus.Extension = ".evtx"
	}
	if !strings.HasPrefix(c.Corpus.Extension, ".") {
		c.Corpus.Extension = "." + c.Corpus.Extension
	}

	if c.Output.TopTechniques <= 0 {
		c.Output.TopTechniques = 15
	}

	c.Log.Level = strings.ToLower(c.Log.Level)
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "warning", "error":
		// valid
	case "":
		c.Log.Level = "info"
	default:
		return fmt.Errorf("unsupported log.level: %q", c.Log.Level)
	}

	return nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

func hasPlaceholder(args []string, placeholder string) bool {
	for _, a := range args {
		if strings.Contains(a, placeholder) {
			return true
		}
	}
	return false
}
