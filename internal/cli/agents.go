package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CoopDesk/CoopDesk/internal/config"
	"github.com/CoopDesk/CoopDesk/internal/store"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage human support agents",
}

var (
	agentName     string
	agentMax      int
	agentInactive bool
)

var agentsAddCmd = &cobra.Command{
	Use:   "add <agent-id>",
	Short: "Register or update a human agent",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()

		agentID := args[0]
		name := agentName
		if name == "" {
			name = agentID
		}
		if err := s.UpsertAgent(agentID, name, !agentInactive, agentMax); err != nil {
			fmt.Printf("Failed to save agent: %v\n", err)
			os.Exit(1)
		}
		state := "active"
		if agentInactive {
			state = "inactive"
		}
		fmt.Printf("Agent %s saved (%s, max %d conversations)\n", agentID, state, agentMax)
	},
}

var agentsShowCmd = &cobra.Command{
	Use:   "show <agent-id>",
	Short: "Show one agent",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()

		agent, err := s.GetAgent(args[0])
		if err != nil {
			fmt.Printf("Agent not found: %v\n", err)
			os.Exit(1)
		}
		state := "inactive"
		if agent.Active {
			state = "active"
		}
		fmt.Printf("%s  %s  %s  max=%d\n", agent.AgentID, agent.Name, state, agent.MaxConcurrent)
	},
}

func openStore() *store.Store {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	s, err := store.New(cfg.StorePath())
	if err != nil {
		fmt.Printf("Store error: %v\n", err)
		os.Exit(1)
	}
	return s
}

func init() {
	agentsAddCmd.Flags().StringVar(&agentName, "name", "", "display name")
	agentsAddCmd.Flags().IntVar(&agentMax, "max", 5, "maximum concurrent conversations")
	agentsAddCmd.Flags().BoolVar(&agentInactive, "inactive", false, "register as inactive")
	agentsCmd.AddCommand(agentsAddCmd)
	agentsCmd.AddCommand(agentsShowCmd)
}
