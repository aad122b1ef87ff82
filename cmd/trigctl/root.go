package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/crystal-mush/mushscript/pkg/config"
	"github.com/crystal-mush/mushscript/pkg/sqlstore"
	"github.com/crystal-mush/mushscript/pkg/trigfile"
	"github.com/crystal-mush/mushscript/pkg/trigger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfFile string
	Source   string
	Dir      string
	DB       string
	Verbose  bool
}

// NewRootCommand creates the root command for trigctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "trigctl",
		Short: "Inspect and exercise MUD trigger scripts",
		Long:  "trigctl checks trigger files, decodes activation flags and runs a single trigger against a scratch world.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !opts.Verbose {
				log.SetOutput(io.Discard)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfFile, "conf", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Source, "source", "", "trigger source (yaml|sqlite), overrides config")
	cmd.PersistentFlags().StringVar(&opts.Dir, "dir", "", "trigger directory, overrides config")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "SQLite trigger database, overrides config")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "show runtime logs")

	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewFlagsCommand())
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))

	return cmd
}

// config resolves the configuration with command-line overrides applied.
func (o *RootOptions) config() (*config.Config, error) {
	cfg, err := config.Load(o.ConfFile)
	if err != nil {
		return nil, err
	}
	if o.Source != "" {
		cfg.TriggerSource = o.Source
	}
	if o.Dir != "" {
		cfg.TriggerDir = o.Dir
	}
	if o.DB != "" {
		cfg.SQLitePath = o.DB
	}
	return cfg, cfg.Validate()
}

// source is a loader that can also list every trigger.
type source interface {
	trigger.Loader
	all() ([]*trigger.TriggerData, error)
	Close() error
}

type dirSource struct{ *trigfile.Dir }

func (d dirSource) all() ([]*trigger.TriggerData, error) { return d.All(), nil }
func (d dirSource) Close() error                         { return nil }

type sqlSource struct{ *sqlstore.Store }

func (s sqlSource) all() ([]*trigger.TriggerData, error) { return s.All(context.Background()) }

func (o *RootOptions) open() (source, *config.Config, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, nil, err
	}
	switch cfg.TriggerSource {
	case config.SourceSQLite:
		s, err := sqlstore.Open(cfg.SQLitePath, cfg.SQLTimeout)
		if err != nil {
			return nil, nil, err
		}
		return sqlSource{s}, cfg, nil
	case config.SourceYAML:
		d, err := trigfile.Open(cfg.TriggerDir)
		if err != nil {
			return nil, nil, err
		}
		return dirSource{d}, cfg, nil
	}
	return nil, nil, fmt.Errorf("unknown trigger source %q", cfg.TriggerSource)
}
