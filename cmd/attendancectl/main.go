package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	userID  string
	timeout time.Duration
)

// rootCmd 运维命令行：迁移、定位自检、查看/提交当天确认
var rootCmd = &cobra.Command{
	Use:   "attendancectl",
	Short: "Operate the wisefido-attendance service",
	Long: `attendancectl runs maintenance and diagnostic tasks against the same
configuration as wisefido-attendance (environment, .env, CONFIG_FILE).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "User ID to act as")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(locateCmd)
	rootCmd.AddCommand(todayCmd)
	rootCmd.AddCommand(confirmCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(geofenceCmd)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
