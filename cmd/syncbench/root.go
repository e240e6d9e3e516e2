package main

import (
	"github.com/spf13/cobra"

	"github.com/IvanBrykalov/syncache/config"
)

// Set by the linker at release time.
var version = "dev"

type rootOptions struct {
	configFile string
	logLevel   string
}

// load resolves the configuration: file, SYNCACHE_* env, then flags.
func (o *rootOptions) load() (*config.Source, *config.Config, error) {
	src, err := config.Open(o.configFile)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := src.Config()
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	return src, cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "syncbench",
		Short:         "Exercise the sync engine with a synthetic workload.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (yaml or toml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level")

	root.AddCommand(newRunCmd(opts))
	return root
}
