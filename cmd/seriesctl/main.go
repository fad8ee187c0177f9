// Command seriesctl inspects what the live feed persisted and published:
// xlsx export and PNG render from sqlite, frame inspection from redis, and
// one-time codes for gesture auth.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"
)

var (
	dbPath        string
	redisAddr     string
	redisPassword string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "seriesctl",
		Short:         "Inspect and export live chart series",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", envOr("SQLITE_PATH", "data/series.db"), "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", envOr("REDIS_ADDR", "localhost:6379"), "Redis address")
	rootCmd.PersistentFlags().StringVar(&redisPassword, "redis-password", os.Getenv("REDIS_PASSWORD"), "Redis password")

	rootCmd.AddCommand(
		newExportCmd(),
		newRenderCmd(),
		newFrameCmd(),
		newWatchCmd(),
		newTailCmd(),
		newOTPCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newOTPCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "otp",
		Short: "Print the current gesture one-time code",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret or GESTURE_TOTP_SECRET is required")
			}
			code, err := totp.GenerateCode(secret, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("generate code: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("GESTURE_TOTP_SECRET"), "Base32 TOTP secret")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
