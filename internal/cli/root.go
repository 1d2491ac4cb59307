package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chargeamps/pkg/config"
)

// app carries the state shared by every subcommand of one invocation
type app struct {
	cfgFile string
	envFile string
	v       *viper.Viper
	cfg     *config.Config
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand builds the chargeamps command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "chargeamps",
		Short: "Charge Amps eAPI poller and control bridge",
		Long: `Polls the Charge Amps cloud API for the charge points owned by an account,
keeps a normalized snapshot of them and exposes connector control over a local
HTTP API and, optionally, MQTT.

Credentials are read from CHARGEAMPS_EMAIL and CHARGEAMPS_PASSWORD.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.loadConfig,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default searches ./chargeamps.yaml, ./config, /etc/chargeamps and ~/.chargeamps)")
	flags.StringVar(&a.envFile, "env-file", "", "environment file loaded before the process environment")
	flags.String("log-level", "", "log level (trace|debug|info|warn|error)")
	flags.String("base-url", "", "eAPI base URL including the API version")

	a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	a.v.BindPFlag("chargeamps.base_url", flags.Lookup("base-url"))

	rootCmd.AddCommand(
		newRunCommand(a),
		newChargePointsCommand(a),
		newConnectorCommand(a),
		newAuthCommand(a),
	)
	return rootCmd
}

func (a *app) loadConfig(cmd *cobra.Command, args []string) error {
	configFile := a.cfgFile
	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return fmt.Errorf("cannot access config file %s: %w", configFile, err)
		}
	} else {
		configFile = config.FindConfigFile(config.ServiceName)
	}
	envFile := a.envFile
	if envFile == "" {
		envFile = config.FindEnvironmentFile(config.ServiceName)
	}

	cfg, err := config.Load(configFile, envFile)
	if err != nil {
		return err
	}

	// flags win over file and environment
	if level := a.v.GetString("log.level"); level != "" {
		cfg.Log.Level = level
	}
	if baseURL := a.v.GetString("chargeamps.base_url"); baseURL != "" {
		cfg.ChargeAmps.BaseURL = baseURL
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	if strings.EqualFold(cfg.Log.Format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	cfg.Log.ConfigureZerolog()

	log.Debug().
		Str("config_file", configFile).
		Str("env_file", envFile).
		Str("base_url", cfg.ChargeAmps.BaseURL).
		Msg("Configuration loaded")

	a.cfg = cfg
	return nil
}
