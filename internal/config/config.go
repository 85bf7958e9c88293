// Package config holds app wide settings unmarshalled from viper: the
// config file, VIBE_ATTN_ environment variables and command line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/inodb/vibe-attn/internal/model/attnnet"
	"github.com/inodb/vibe-attn/internal/pipeline"
	"github.com/inodb/vibe-attn/internal/variants"
)

// EnvPrefix is the prefix of environment variable overrides, e.g.
// VIBE_ATTN_RUN_WORKERS for run.workers.
const EnvPrefix = "VIBE_ATTN"

// Model kinds.
const (
	ModelAttnNet = "attnnet"
	ModelRemote  = "remote"
)

// GenomeConfig locates the reference genome.
type GenomeConfig struct {
	// indexed FASTA; the .fai must sit next to it
	FASTA string `mapstructure:"fasta"`
}

// LoadConfig controls variant filtering and balancing.
type LoadConfig struct {
	VCF          string   `mapstructure:"vcf"`
	Significance []string `mapstructure:"significance"`
	Balance      bool     `mapstructure:"balance"`
	MaxPerClass  int      `mapstructure:"max_per_class"`
	Seed         uint64   `mapstructure:"seed"`
}

// WindowConfig sets the sequence window width.
type WindowConfig struct {
	Size int `mapstructure:"size"`
}

// ModelConfig selects and shapes the model.
type ModelConfig struct {
	// attnnet or remote
	Kind string `mapstructure:"kind"`

	// remote model server
	URL     string        `mapstructure:"url"`
	Name    string        `mapstructure:"name"`
	Timeout time.Duration `mapstructure:"timeout"`

	// in-process network
	Layers    int    `mapstructure:"layers"`
	Heads     int    `mapstructure:"heads"`
	Dim       int    `mapstructure:"dim"`
	Kmer      int    `mapstructure:"kmer"`
	CLS       bool   `mapstructure:"cls"`
	MaxTokens int    `mapstructure:"max_tokens"`
	Seed      uint64 `mapstructure:"seed"`
}

// PatchConfig sets where hidden state is patched.
type PatchConfig struct {
	Layer int `mapstructure:"layer"`
}

// RunConfig controls batching of model calls.
type RunConfig struct {
	BatchSize int `mapstructure:"batch_size"`
	Workers   int `mapstructure:"workers"`
}

// AnalysisConfig controls summary statistics.
type AnalysisConfig struct {
	CentralityRadius int `mapstructure:"centrality_radius"`
	MinGroupSize     int `mapstructure:"min_group_size"`
}

// ReportConfig controls figure output.
type ReportConfig struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"`
}

// Config is the root-level settings struct.
type Config struct {
	// DuckDB database holding every stage table
	DB       string         `mapstructure:"db"`
	DataDir  string         `mapstructure:"data_dir"`
	Genome   GenomeConfig   `mapstructure:"genome"`
	Load     LoadConfig     `mapstructure:"load"`
	Window   WindowConfig   `mapstructure:"window"`
	Model    ModelConfig    `mapstructure:"model"`
	Patch    PatchConfig    `mapstructure:"patch"`
	Run      RunConfig      `mapstructure:"run"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Report   ReportConfig   `mapstructure:"report"`
}

// DefaultDataDir returns ~/.vibe-attn, or .vibe-attn when the home
// directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vibe-attn"
	}
	return filepath.Join(home, ".vibe-attn")
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	dataDir := DefaultDataDir()
	po := pipeline.DefaultOptions()
	net := attnnet.DefaultConfig()

	v.SetDefault("data_dir", dataDir)
	v.SetDefault("db", filepath.Join(dataDir, "attn.duckdb"))
	v.SetDefault("genome.fasta", filepath.Join(dataDir, "hg38.fa"))
	v.SetDefault("load.vcf", filepath.Join(dataDir, "clinvar.vcf.gz"))
	v.SetDefault("load.significance", []string{variants.SignificancePathogenic, variants.SignificanceBenign})
	v.SetDefault("load.balance", false)
	v.SetDefault("load.max_per_class", 0)
	v.SetDefault("load.seed", 42)
	v.SetDefault("window.size", po.WindowSize)
	v.SetDefault("model.kind", ModelAttnNet)
	v.SetDefault("model.url", "http://localhost:8000")
	v.SetDefault("model.name", "")
	v.SetDefault("model.timeout", "5m")
	v.SetDefault("model.layers", net.Layers)
	v.SetDefault("model.heads", net.Heads)
	v.SetDefault("model.dim", net.Dim)
	v.SetDefault("model.kmer", net.K)
	v.SetDefault("model.cls", true)
	v.SetDefault("model.max_tokens", net.MaxTokens)
	v.SetDefault("model.seed", net.Seed)
	v.SetDefault("patch.layer", po.PatchLayer)
	v.SetDefault("run.batch_size", po.BatchSize)
	v.SetDefault("run.workers", po.Workers)
	v.SetDefault("analysis.centrality_radius", po.CentralityRadius)
	v.SetDefault("analysis.min_group_size", po.MinGroupSize)
	v.SetDefault("report.dir", "report")
	v.SetDefault("report.format", "png")
}

// BindEnv makes every key overridable from VIBE_ATTN_ variables.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load unmarshals and validates the settings held by v.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch {
	case c.Window.Size < 1 || c.Window.Size%2 == 0:
		return fmt.Errorf("window.size must be a positive odd number, got %d", c.Window.Size)
	case c.Patch.Layer < 1:
		return fmt.Errorf("patch.layer must be at least 1, got %d: layer 0 patches the embedding and replays the alternate sequence", c.Patch.Layer)
	case c.Run.BatchSize < 1:
		return fmt.Errorf("run.batch_size must be positive, got %d", c.Run.BatchSize)
	case c.Run.Workers < 0:
		return fmt.Errorf("run.workers must be non-negative, got %d", c.Run.Workers)
	case c.Analysis.CentralityRadius < 0:
		return fmt.Errorf("analysis.centrality_radius must be non-negative, got %d", c.Analysis.CentralityRadius)
	case c.Load.MaxPerClass < 0:
		return fmt.Errorf("load.max_per_class must be non-negative, got %d", c.Load.MaxPerClass)
	}
	switch c.Model.Kind {
	case ModelAttnNet, ModelRemote:
	default:
		return fmt.Errorf("model.kind must be %s or %s, got %q", ModelAttnNet, ModelRemote, c.Model.Kind)
	}
	switch c.Report.Format {
	case "png", "svg", "pdf":
	default:
		return fmt.Errorf("report.format must be png, svg or pdf, got %q", c.Report.Format)
	}
	return nil
}

// Pipeline returns the stage options.
func (c Config) Pipeline() pipeline.Options {
	return pipeline.Options{
		Variants: variants.Options{
			Significance: c.Load.Significance,
			Balance:      c.Load.Balance,
			MaxPerClass:  c.Load.MaxPerClass,
			Seed:         c.Load.Seed,
		},
		WindowSize:       c.Window.Size,
		PatchLayer:       c.Patch.Layer,
		BatchSize:        c.Run.BatchSize,
		Workers:          c.Run.Workers,
		CentralityRadius: c.Analysis.CentralityRadius,
		MinGroupSize:     c.Analysis.MinGroupSize,
	}
}

// AttnNet returns the in-process network shape.
func (c Config) AttnNet() attnnet.Config {
	m := c.Model
	return attnnet.Config{
		Layers:    m.Layers,
		Heads:     m.Heads,
		Dim:       m.Dim,
		K:         m.Kmer,
		CLS:       m.CLS,
		MaxTokens: m.MaxTokens,
		Seed:      m.Seed,
	}
}
