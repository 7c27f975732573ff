package internal

import (
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/md2html/internal/build"
)

// Config represents one build invocation. It is assembled from the
// cascade: built-in defaults, ./_md2html.json, the --config file, then
// CLI flags, highest priority last.
type Config struct {
	// Inputs are the positional input files and directories.
	Inputs []string `json:"input"`
	// Output is the explicit output file (single input) or directory.
	Output string `json:"output"`
	// OutputDir is the output root for multi-input/recursive builds; it
	// takes precedence over Output when both are set.
	OutputDir string `json:"output_dir"`
	Recursive bool   `json:"recursive"`
	Watch     bool   `json:"watch"`
	Serve     bool   `json:"serve"`
	Port      int    `json:"port"`
	Execute   bool   `json:"execute"`
	Jekyll    bool   `json:"jekyll"`
	// ForceOverwrite (default true) replaces existing destinations; the
	// -n flag clears it.
	ForceOverwrite bool `json:"force_overwrite"`
	Verbose        bool `json:"verbose"`
	DryRun         bool `json:"dry_run"`
	// TemplatesDir is searched before ./templates for page templates.
	TemplatesDir string `json:"templates"`
	DefaultCSS   bool   `json:"default_css"`
	// BuildCommands overrides the per-extension compile/run table.
	BuildCommands map[string]build.Command `json:"build_commands"`
	// AllowExternalIncludes permits @include/@src references escaping
	// the input root. Default deny.
	AllowExternalIncludes bool `json:"allow_external_includes"`
	// Cache is the SQLite build-cache path; empty disables cross-run
	// skip detection.
	Cache string `json:"cache"`
	// Exclude lists directory names skipped during the walk, in
	// addition to underscore- and dot-prefixed ones.
	Exclude []string `json:"exclude"`
	// Site variables exposed to every template as {{.Site}}.
	Site map[string]interface{} `json:"site"`

	ExecTimeoutSec int `json:"exec_timeout_seconds"`
	Concurrency    int `json:"concurrency"`
	DebounceMillis int `json:"debounce_ms"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.ExecTimeoutSec, validation.Min(1)),
		validation.Field(&c.Concurrency, validation.Min(1)),
		validation.Field(&c.DebounceMillis, validation.Min(1)),
	)
}

// LogLevel maps the verbose flag onto a slog level.
func (c *Config) LogLevel() slog.Level {
	if c.Verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// ApplyJekyll rewrites the config for Jekyll conventions: build the
// whole tree into _site. Jekyll's conventional excludes are underscore
// or dot prefixed, so the walk skips them already.
func (c *Config) ApplyJekyll() {
	c.Inputs = []string{"."}
	c.OutputDir = "_site"
	c.Recursive = true
}

// ResolvedOutput returns the output argument for path resolution.
func (c *Config) ResolvedOutput() string {
	if c.OutputDir != "" {
		return c.OutputDir
	}
	return c.Output
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		Port:           8000,
		ForceOverwrite: true,
		DefaultCSS:     true,
		Cache:          ".md2html-cache.db",
		ExecTimeoutSec: 30,
		Concurrency:    4,
		DebounceMillis: 200,
	}
}
