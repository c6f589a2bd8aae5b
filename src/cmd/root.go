// Package cmd is the command line interface of the bot.
package cmd

import (
	"strings"

	"personal/discord_gateway/src/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("DISCORD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "discord_gateway",
		Short:         "Discord bot gateway client",
		Long:          "discord_gateway connects a bot to the Discord gateway, keeps its sessions alive across reconnects and serves its commands.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.LoadEnv(v.GetString("env-file"))
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to a YAML config file")
	flags.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flags.String("token", "", "bot token (env DISCORD_TOKEN)")
	flags.String("api-url", "", "REST API base URL")
	flags.String("log-level", "", "log level: trace, debug, info, warn or error")
	flags.String("log-format", "", "log format: console or json")
	_ = v.BindPFlags(flags)

	rootCmd.AddCommand(
		newRunCmd(v),
		newGatewayCmd(v),
	)
	return rootCmd
}

// loadConfig reads the config file named by --config and applies flag
// and environment overrides on top.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	return config.Load(v.GetString("config"), func(c *config.Config) {
		setString(&c.Token, v.GetString("token"))
		setString(&c.API.BaseURL, v.GetString("api-url"))
		setString(&c.Logging.Level, v.GetString("log-level"))
		setString(&c.Logging.Format, v.GetString("log-format"))
		setString(&c.Commands.Prefix, v.GetString("prefix"))
		setString(&c.Store.Path, v.GetString("store"))
		if n := v.GetInt("shards"); n > 0 {
			c.Gateway.ShardCount = n
		}
	})
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
