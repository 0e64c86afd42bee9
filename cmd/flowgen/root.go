package main

import (
	"github.com/spf13/cobra"

	"github.com/randalmurphal/flowgen/pkg/flowgen/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "flowgen",
		Short: "Generate n8n workflows from prompts",
		Long: "flowgen turns a natural-language description into an n8n workflow.\n" +
			"It extracts keywords, finds matching node descriptions, and asks a model\n" +
			"to assemble the workflow, streaming progress as it goes.",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		Version: version,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (YAML or JSON); FLOWGEN_* variables override it")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newGenerateCmd(opts))
	root.AddCommand(newQuotaCmd(opts))
	root.AddCommand(newCatalogCmd(opts))
	return root
}

// settings resolves the config file, the environment and the global flags.
func (o *rootOptions) settings() (config.Settings, error) {
	s, err := config.Load(o.configPath)
	if err != nil {
		return config.Settings{}, err
	}
	if o.logLevel != "" {
		s.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		s.Log.Format = o.logFormat
	}
	return s, nil
}
