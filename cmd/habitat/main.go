// Command habitat runs the room-scoped multi-agent simulation server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Strob0t/Habitat/internal/config"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "habitat",
		Short: "Room-scoped multi-agent simulation server",
		Long: `habitat hosts a world of rooms and agents. Cognition backends act
through the action API or the MCP tool server; observers watch over
WebSocket.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "YAML config file (default "+config.DefaultConfigFile+")")
	rootCmd.PersistentFlags().String("dsn", "", "PostgreSQL DSN for the event journal")

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newHashKeyCmd(),
		newVersionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "habitat version %s\n", version)
		},
	}
}

// loadConfig builds the CLI override layer from the flags the user actually
// set, then loads the full configuration hierarchy.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	var flags config.CLIFlags
	str := func(name string) *string {
		if !cmd.Flags().Changed(name) {
			return nil
		}
		v, _ := cmd.Flags().GetString(name)
		return &v
	}
	flags.ConfigPath = str("config")
	flags.DSN = str("dsn")
	if cmd.Flags().Lookup("port") != nil {
		flags.Port = str("port")
		flags.LogLevel = str("log-level")
		flags.NatsURL = str("nats-url")
		if cmd.Flags().Changed("seed") {
			v, _ := cmd.Flags().GetBool("seed")
			flags.Seed = &v
		}
	}
	return config.LoadWithCLI(flags)
}
