package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/CoopDesk/CoopDesk/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("CoopDesk Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("CoopDesk Status")
		fmt.Printf("Version: %s\n", version)

		// Check config
		home, _ := os.UserHomeDir()
		configPath := filepath.Join(home, config.ConfigDir, "config.json")
		if _, err := os.Stat(configPath); err == nil {
			fmt.Println("Config:   ✓ Found (" + configPath + ")")
		} else {
			fmt.Println("Config:   ✗ Not found (run 'coopdesk init' first)")
		}

		var cfg *config.Config
		if c, err := config.Load(); err == nil {
			cfg = c
			if cfg.Providers.OpenAI.APIKey != "" {
				fmt.Println("API Key:  ✓ Found")
			} else {
				fmt.Println("API Key:  ✗ Not found")
			}
		} else {
			fmt.Println("API Key:  ? Unable to load config")
		}

		// WhatsApp session + QR location
		if cfg != nil && cfg.Channels.WhatsApp.Enabled {
			fmt.Println("WhatsApp: ✓ Enabled")
			if _, err := os.Stat(cfg.Channels.WhatsApp.DBPath); err == nil {
				fmt.Println("WhatsApp Link: ✓ Session found (no QR needed)")
			} else {
				qrPath := filepath.Join(filepath.Dir(cfg.Channels.WhatsApp.DBPath), "whatsapp-qr.png")
				fmt.Println("WhatsApp Link: ✗ No session; QR will be written to " + qrPath)
			}
		} else if cfg != nil {
			fmt.Println("WhatsApp: ✗ Disabled")
		}

		if cfg != nil {
			if _, err := os.Stat(cfg.StorePath()); err == nil {
				fmt.Println("Store:    ✓ Found (" + cfg.StorePath() + ")")
			} else {
				fmt.Println("Store:    ✗ Not created yet")
			}
			fmt.Println("Panel:    " + cfg.Panel.Listen)
		}
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("CoopDesk Init")
		if path, err := config.ConfigPath(); err == nil {
			if _, err := os.Stat(path); err == nil {
				fmt.Println("Config already exists at " + path)
				return
			}
		}
		cfg := config.DefaultConfig()
		if err := config.Save(cfg); err != nil {
			fmt.Printf("Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Default config written. Set providers.openai.apiKey before starting the gateway.")
	},
}
