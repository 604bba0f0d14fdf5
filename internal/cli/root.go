// Package cli implements the coopdesk command line interface.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/CoopDesk/CoopDesk/internal/cli.version=1.2.3"
	version = "1.0.0"
	logo    = "\n" +
		"   ____                  ____            _\n" +
		"  / ___|___   ___  _ __ |  _ \\  ___  ___| | __\n" +
		" | |   / _ \\ / _ \\| '_ \\| | | |/ _ \\/ __| |/ /\n" +
		" | |__| (_) | (_) | |_) | |_| |  __/\\__ \\   <\n" +
		"  \\____\\___/ \\___/| .__/|____/ \\___||___/_|\\_\\\n" +
		"                  |_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "coopdesk",
	Short: "CoopDesk - WhatsApp support desk for the cooperative",
	Long:  color.CyanString(logo) + "\nAI-first WhatsApp customer support with human handover.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(agentsCmd)
}
