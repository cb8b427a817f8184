package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/CZERTAINLY/toxin/internal/prompt"

	"github.com/spf13/viper"
)

const (
	EnvPrefix = "TOXIN"
	FileName  = "toxin.yaml"
)

type Config struct {
	Tool    Tool     `mapstructure:"tool" yaml:"tool"`
	Scan    Scan     `mapstructure:"scan" yaml:"scan"`
	Prompts []Prompt `mapstructure:"prompts" yaml:"prompts"`
	Server  Server   `mapstructure:"server" yaml:"server"`
	Log     Log      `mapstructure:"log" yaml:"log"`
}

// Tool describes how the scanner is executed
type Tool struct {
	Path           string            `mapstructure:"path" yaml:"path"`
	Args           []string          `mapstructure:"args" yaml:"args"` // prepended to every invocation
	Env            map[string]string `mapstructure:"env" yaml:"env,omitempty"`
	VersionArgs    []string          `mapstructure:"version_args" yaml:"version_args"` // empty disables the probe
	VersionTimeout time.Duration     `mapstructure:"version_timeout" yaml:"version_timeout"`
	PayloadFlag    string            `mapstructure:"payload_flag" yaml:"payload_flag"`
}

// Scan holds the limits and the performance flags of one scan
type Scan struct {
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	KillGrace      time.Duration `mapstructure:"kill_grace" yaml:"kill_grace"`
	Threads        int           `mapstructure:"threads" yaml:"threads"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	Retries        int           `mapstructure:"retries" yaml:"retries"`
	Delay          time.Duration `mapstructure:"delay" yaml:"delay"`
	ExtraArgs      []string      `mapstructure:"extra_args" yaml:"extra_args"`
	Parallel       int           `mapstructure:"parallel" yaml:"parallel"` // concurrent scans of one CLI run
}

type Prompt struct {
	Match    string `mapstructure:"match" yaml:"match"`
	Response string `mapstructure:"response" yaml:"response"`
}

type Server struct {
	Addr          string        `mapstructure:"addr" yaml:"addr"`
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
}

type Log struct {
	Verbose    bool   `mapstructure:"verbose" yaml:"verbose"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tool.path", "python")
	v.SetDefault("tool.args", []string{"/app/toxssin/toxssin.py"})
	v.SetDefault("tool.env", map[string]string{})
	v.SetDefault("tool.version_args", []string{"--version"})
	v.SetDefault("tool.version_timeout", 10*time.Second)
	v.SetDefault("tool.payload_flag", "--payload")

	v.SetDefault("scan.timeout", 300*time.Second)
	v.SetDefault("scan.kill_grace", 5*time.Second)
	v.SetDefault("scan.threads", 10)
	v.SetDefault("scan.request_timeout", 15*time.Second)
	v.SetDefault("scan.retries", 1)
	v.SetDefault("scan.delay", time.Duration(0))
	v.SetDefault("scan.extra_args", []string{"--fast", "--no-crawl", "--smart"})
	v.SetDefault("scan.parallel", 2)

	v.SetDefault("prompts", defaultPrompts())

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.max_concurrent", 4)
	v.SetDefault("server.read_timeout", 30*time.Second)

	v.SetDefault("log.verbose", false)
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
}

// defaultPrompts converts prompt.Default into the shape viper decodes
// into []Prompt
func defaultPrompts() []any {
	rules := prompt.Default().Rules()
	ret := make([]any, 0, len(rules))
	for _, r := range rules {
		match, ok := r.Matcher.(prompt.Contains)
		if !ok {
			continue
		}
		ret = append(ret, map[string]any{"match": string(match), "response": string(r.Response)})
	}
	return ret
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the built-in configuration with TOXIN_* environment
// overrides applied
func Default() (Config, error) {
	return decode(newViper())
}

// Find returns the configuration file to use: explicit when set, then
// $TOXINCONFIG, then toxin.yaml in the user config dir and in the current
// directory. Returns an empty string when there is none.
func Find(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv("TOXINCONFIG"); env != "" {
		return env
	}
	candidates := make([]string, 0, 2)
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "toxin", FileName))
	}
	candidates = append(candidates, FileName)
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && st.Mode().IsRegular() {
			return c
		}
	}
	return ""
}

// Load reads a configuration file. Empty path returns Default.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return decode(v)
}

// Parse reads a YAML configuration from r
func Parse(r io.Reader) (Config, error) {
	v := newViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(r); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Tool.Path == "" {
		errs = append(errs, errors.New("tool.path is empty"))
	}
	if c.Tool.VersionTimeout < 0 {
		errs = append(errs, errors.New("tool.version_timeout is negative"))
	}
	// a validated custom payload would be silently dropped without it
	if c.Tool.PayloadFlag == "" {
		errs = append(errs, errors.New("tool.payload_flag is empty"))
	}
	if c.Scan.Timeout <= 0 {
		errs = append(errs, errors.New("scan.timeout must be positive"))
	}
	if c.Scan.KillGrace < 0 {
		errs = append(errs, errors.New("scan.kill_grace is negative"))
	}
	if c.Scan.Threads < 1 {
		errs = append(errs, errors.New("scan.threads must be at least 1"))
	}
	if c.Scan.Retries < 0 {
		errs = append(errs, errors.New("scan.retries is negative"))
	}
	if c.Scan.RequestTimeout < 0 || c.Scan.Delay < 0 {
		errs = append(errs, errors.New("scan.request_timeout and scan.delay can't be negative"))
	}
	if c.Scan.Parallel < 1 {
		errs = append(errs, errors.New("scan.parallel must be at least 1"))
	}
	for i, p := range c.Prompts {
		if p.Match == "" {
			errs = append(errs, fmt.Errorf("prompts[%d].match is empty", i))
		}
	}
	if c.Server.MaxConcurrent < 1 {
		errs = append(errs, errors.New("server.max_concurrent must be at least 1"))
	}
	switch c.Log.Format {
	case "json", "text", "auto":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of json, text, auto", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Responder builds the prompt table from the configured prompts
func (c Config) Responder() prompt.Table {
	rules := make([]prompt.Rule, 0, len(c.Prompts))
	for _, p := range c.Prompts {
		rules = append(rules, prompt.Rule{
			Matcher:  prompt.Contains(p.Match),
			Response: []byte(p.Response),
		})
	}
	return prompt.NewTable(rules...)
}

// Environ returns the environment of the tool: the current environment
// extended by tool.env. Values starting with $ are expanded. Returns nil
// when no variable is configured, so the environment is inherited.
func (t Tool) Environ() []string {
	if len(t.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(t.Env))
	for k := range t.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	env := os.Environ()
	for _, k := range keys {
		v := t.Env[k]
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		env = append(env, strings.ToUpper(k)+"="+v)
	}
	return env
}
