package cmd

import (
	"encoding/json"

	"personal/discord_gateway/src/client"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newGatewayCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Print the gateway URL, recommended shards and session start limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			rest := client.New(cfg.Token,
				client.WithBaseURL(cfg.API.BaseURL),
				client.WithMaxRetries(cfg.API.MaxRetries),
			)
			res, err := rest.GetGatewayBot(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
