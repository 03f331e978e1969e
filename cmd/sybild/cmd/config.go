package cmd

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"cosmossdk.io/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

const envPrefix = "SYBILD"

// Config is the operator configuration of sybild, read from config.toml,
// SYBILD_* environment variables and a local .env file, in increasing order
// of precedence for the environment.
type Config struct {
	ChainID       string        `mapstructure:"chain-id"`
	Authority     string        `mapstructure:"authority"`
	Snapshot      string        `mapstructure:"snapshot"`
	TelemetrySalt string        `mapstructure:"telemetry-salt"`
	LogLevel      string        `mapstructure:"log-level"`
	LogFormat     string        `mapstructure:"log-format"`
	Metrics       MetricsConfig `mapstructure:"metrics"`

	// Params is the detection configuration after the [sybil] table has been
	// applied over the snapshot or default parameters.
	Params types.Params `mapstructure:"-"`
}

// MetricsConfig controls the Prometheus endpoint of the serve command.
type MetricsConfig struct {
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("chain-id", "sybilguard-local-1")
	v.SetDefault("authority", "sybilguard-operator")
	v.SetDefault("snapshot", "snapshot.json")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "plain")
	v.SetDefault("metrics.address", "127.0.0.1:26660")
	v.SetDefault("metrics.path", "/metrics")
}

// newViper loads .env, config.toml and the environment into a fresh viper.
func newViper(configFile string) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setConfigDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}
	return v, nil
}

// loadConfig decodes v and overlays the [sybil] table on base.
func loadConfig(v *viper.Viper, base types.Params) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	params, err := types.ParamsFromAppOptions(v, base)
	if err != nil {
		return Config{}, fmt.Errorf("invalid sybil params: %w", err)
	}
	cfg.Params = params
	return cfg, cfg.ValidateBasic()
}

// ValidateBasic checks the operator configuration.
func (c Config) ValidateBasic() error {
	if strings.TrimSpace(c.ChainID) == "" {
		return fmt.Errorf("chain-id cannot be empty")
	}
	if strings.TrimSpace(c.Authority) == "" {
		return fmt.Errorf("authority cannot be empty")
	}
	if strings.TrimSpace(c.Snapshot) == "" {
		return fmt.Errorf("snapshot cannot be empty")
	}
	if _, err := log.ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log-level: %w", err)
	}
	switch c.LogFormat {
	case "plain", "json":
	default:
		return fmt.Errorf("log-format must be plain or json")
	}
	if err := validateListenAddress("metrics.address", c.Metrics.Address); err != nil {
		return err
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return c.Params.Validate()
}

func validateListenAddress(field, addr string) error {
	trimmed := strings.TrimPrefix(strings.TrimSpace(addr), "tcp://")
	if trimmed == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}

	_, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		return fmt.Errorf("%s must be host:port: %w", field, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("%s has invalid port %q", field, port)
	}
	return nil
}

// newLogger builds the process logger from the configured level and format.
func newLogger(cfg Config, cmd *cobra.Command) (log.Logger, error) {
	filter, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := []log.Option{log.FilterOption(filter)}
	if cfg.LogFormat == "json" {
		opts = append(opts, log.OutputJSONOption())
	}
	return log.NewLogger(cmd.ErrOrStderr(), opts...), nil
}

func configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the sybild configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Validate the configuration and the detection parameters it produces",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := configFromCmd(cmd, types.DefaultParams())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "config ok: chain-id=%s snapshot=%s\n", cfg.ChainID, cfg.Snapshot)
				return err
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := configFromCmd(cmd, types.DefaultParams())
				if err != nil {
					return err
				}
				return printJSON(cmd, cfg)
			},
		},
	)

	return cmd
}
