package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"personal/discord_gateway/src/bot"
	"personal/discord_gateway/src/commands"
	"personal/discord_gateway/src/logging"
	"personal/discord_gateway/src/store"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect every shard and serve commands until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			logger, err := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}

			opts := []bot.Option{bot.WithLogger(logger)}
			if cfg.Store.Path != "" {
				sessions, err := store.NewSQLiteStore(cfg.Store.Path,
					store.WithMaxAge(cfg.Store.MaxAge),
					store.WithLogger(logger),
				)
				if err != nil {
					return err
				}
				defer sessions.Close()
				opts = append(opts, bot.WithSessionStore(sessions))
			}

			var b *bot.Bot
			tree, err := builtinCommands(func() *bot.Bot { return b })
			if err != nil {
				return err
			}
			opts = append(opts, bot.WithCommands(tree))

			if b, err = bot.New(cfg, opts...); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = b.Run(ctx)
			for _, st := range b.Status() {
				logger.Info().
					Int("shard", st.ID).
					Stringer("state", st.State).
					Int64("seq", st.Sequence).
					Msg("shard stopped")
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.String("prefix", "", "text command prefix (env DISCORD_PREFIX or DEFAULT_PREFIX)")
	flags.String("store", "", "SQLite file for resuming sessions across restarts")
	flags.Int("shards", 0, "shard count; 0 uses the recommended count")
	_ = v.BindPFlag("prefix", flags.Lookup("prefix"))
	_ = v.BindPFlag("store", flags.Lookup("store"))
	_ = v.BindPFlag("shards", flags.Lookup("shards"))
	_ = v.BindEnv("prefix", "DISCORD_PREFIX", "DEFAULT_PREFIX")

	return cmd
}

// builtinCommands are the commands every bot answers.
func builtinCommands(self func() *bot.Bot) (*commands.Tree, error) {
	return commands.NewBuilder().
		Command(commands.Descriptor{
			Name:        "ping",
			Description: "Report gateway latency",
			Handler: func(ctx context.Context, inv *commands.Invocation) error {
				b := self()
				var parts []string
				for _, st := range b.Status() {
					parts = append(parts, fmt.Sprintf("shard %d: %s", st.ID, st.Latency))
				}
				return b.Reply(ctx, inv, "Pong! "+strings.Join(parts, ", "))
			},
		}).
		Build()
}
