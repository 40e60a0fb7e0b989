package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modelgateway/inference-gateway/pkg/config"
	"github.com/modelgateway/inference-gateway/pkg/gateway"
	"github.com/modelgateway/inference-gateway/pkg/logging"
)

type serveFlags struct {
	configPath  string
	profilePath string
}

func newServeCmd() *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway: admission, routing, orchestration, and streaming",
		Long: `serve loads the gateway configuration and model profile, wires every
control-plane component, and blocks until the process receives SIGINT or
SIGTERM, at which point it drains the admission queue and shuts down the
HTTP listener.

Examples:
  gatewayd serve
  gatewayd serve --config configs/config.yaml --profile configs/profiles/balanced.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to config.yaml (overrides CONFIG_FILE)")
	cmd.Flags().StringVar(&flags.profilePath, "profile", "", "Path to the model profile YAML (overrides GATEWAY_PROFILE_PATH)")

	return cmd
}

func runServe(cmd *cobra.Command, flags *serveFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if flags.configPath != "" {
		if err := config.LoadFile(flags.configPath, cfg); err != nil {
			return fmt.Errorf("loading config file %s: %w", flags.configPath, err)
		}
	}
	if flags.profilePath != "" {
		cfg.ProfilePath = flags.profilePath
	}

	prof, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return fmt.Errorf("loading profile %s: %w", cfg.ProfilePath, err)
	}

	gwLog := logging.NewLogrusAdapterFromEntry(log.WithField("profile", prof.Name))

	gw, err := gateway.New(gwLog, cfg, prof)
	if err != nil {
		return fmt.Errorf("constructing gateway: %w", err)
	}

	log.Infof("gatewayd serving on %s:%d with profile %q", cfg.Server.Host, cfg.Server.Port, prof.Name)

	if err := gw.Run(cmd.Context()); err != nil {
		return fmt.Errorf("gateway exited: %w", err)
	}
	return nil
}
