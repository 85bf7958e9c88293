// Package main provides the vibe-attn command-line tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/inodb/vibe-attn/internal/config"
	"github.com/inodb/vibe-attn/internal/model"
	"github.com/inodb/vibe-attn/internal/model/attnnet"
	"github.com/inodb/vibe-attn/internal/model/remote"
	"github.com/inodb/vibe-attn/internal/pipeline"
	"github.com/inodb/vibe-attn/internal/store"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const configName = ".vibe-attn"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}
	return ExitSuccess
}

// app carries the state shared by every subcommand.
type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), logger: zap.NewNop()}

	cmd := &cobra.Command{
		Use:   "vibe-attn",
		Short: "Attention perturbation analysis of ClinVar SNVs",
		Long: `vibe-attn measures how single-nucleotide variants change the attention of a
DNA language model. Every stage reads from and writes to one DuckDB file:

  load      clean ClinVar SNVs
  extract   cut reference and alternate windows from the genome
  run       capture attention and patch hidden state at the variant
  analyze   summarize centrality and distance decay per group`,
		Version:       fmt.Sprintf("%s (%s) built %s", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&a.cfgFile, "config", "", "config file (default ~/.vibe-attn.yaml)")
	f.String("db", "", "DuckDB database (default ~/.vibe-attn/attn.duckdb)")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	_ = a.v.BindPFlag("db", f.Lookup("db"))

	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newDownloadCmd(a))
	cmd.AddCommand(newIndexCmd(a))
	cmd.AddCommand(newLoadCmd(a))
	cmd.AddCommand(newExtractCmd(a))
	cmd.AddCommand(newRunCmd(a))
	cmd.AddCommand(newAnalyzeCmd(a))
	cmd.AddCommand(newReportCmd(a))
	cmd.AddCommand(newExportCmd(a))
	cmd.AddCommand(newRunsCmd(a))
	cmd.AddCommand(newPipelineCmd(a))

	return cmd
}

func (a *app) init() error {
	config.SetDefaults(a.v)
	config.BindEnv(a.v)

	if err := a.readConfig(); err != nil {
		return err
	}

	logger, err := newLogger(a.verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.logger = logger
	return nil
}

// readConfig reads the config file if there is one. A missing file is not
// an error; "config set" creates it.
func (a *app) readConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if _, err := os.Stat(a.cfgFile); err != nil {
			return nil
		}
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		a.v.AddConfigPath(home)
		a.v.SetConfigName(configName)
		a.v.SetConfigType("yaml")
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// configPath returns the file "config set" writes to.
func (a *app) configPath() (string, error) {
	if used := a.v.ConfigFileUsed(); used != "" {
		return used, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, configName+".yaml"), nil
}

// settings binds the named flags of cmd to config keys and loads the
// validated config.
func (a *app) settings(cmd *cobra.Command, flags map[string]string) (config.Config, error) {
	for name, key := range flags {
		fl := cmd.Flags().Lookup(name)
		if fl == nil {
			return config.Config{}, fmt.Errorf("unknown flag %q", name)
		}
		if err := a.v.BindPFlag(key, fl); err != nil {
			return config.Config{}, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return config.Load(a.v)
}

// openPipeline opens the store and wraps it in a pipeline. The caller
// closes the store.
func (a *app) openPipeline(cfg config.Config) (*store.Store, *pipeline.Pipeline, error) {
	s, err := store.Open(cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	a.logger.Debug("opened store", zap.String("path", cfg.DB))
	p := pipeline.New(s, cfg.Pipeline())
	p.SetLogger(a.logger)
	return s, p, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zc.Build()
}

func newModel(cfg config.Config) (model.Model, error) {
	switch cfg.Model.Kind {
	case config.ModelRemote:
		return remote.New(cfg.Model.URL, cfg.Model.Name, cfg.Model.Timeout), nil
	default:
		net, err := attnnet.New(cfg.AttnNet())
		if err != nil {
			return nil, fmt.Errorf("build model: %w", err)
		}
		return net, nil
	}
}
