package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nodeship/api/config"
	"nodeship/api/logging"
	"nodeship/cli/api"
)

var (
	apiURL     string
	apiToken   string
	configPath string
	verbose    bool
	client     *api.Client
)

var rootCmd = &cobra.Command{
	Use:   "nodeship",
	Short: "Release pipeline and service topology for a thenewboston node",
	Long: `nodeship verifies, publishes and deploys a thenewboston node, and runs its
database, backend and reverse proxy as one topology.

Remote commands talk to the nodeship API; local commands (run, proxy,
topology, manage) read the same NODESHIP_* configuration directly.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client = api.New(apiURL, apiToken)
	},
	SilenceUsage: true,
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	defaultURL := os.Getenv("NODESHIP_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8800"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "nodeship API URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("NODESHIP_API_TOKEN"), "API bearer token")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("NODESHIP_CONFIG"), "config file for local commands")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging for local commands")
}

// localConfig loads configuration for commands that work without the API.
func localConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, nil, err
	}
	env := "production"
	if verbose {
		env = "development"
	}
	log, err := logging.New(env, "nodeship-cli")
	if err != nil {
		return nil, nil, err
	}
	if !verbose {
		log = log.WithOptions(zap.IncreaseLevel(zap.WarnLevel))
	}
	return cfg, log, nil
}
