package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"nodeship/api/assembly"
	"nodeship/api/topology"
	"nodeship/cli/style"
)

var topologyCmd = &cobra.Command{
	Use:     "topology",
	Short:   "Run the node's database, backend and reverse proxy",
	Aliases: []string{"topo"},
}

var topologyRenderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print the topology as a compose file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		topo, err := localTopology()
		if err != nil {
			return err
		}
		out, err := topology.RenderCompose(topo)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

var topologyUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Create volumes and start services in dependency order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := localManager()
		if err != nil {
			return err
		}
		err = m.Up(cmd.Context())
		printStates(m)
		return err
	},
}

var topologyDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop services in reverse order; persistent volumes are kept",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := localManager()
		if err != nil {
			return err
		}
		err = m.Down(cmd.Context())
		printStates(m)
		return err
	},
}

var topologyValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check dependencies and volume sharing without starting anything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		topo, err := localTopology()
		if err != nil {
			return err
		}
		if err := topo.Validate(); err != nil {
			fmt.Println(style.ErrorBox.Render("✗ " + err.Error()))
			return err
		}
		order, err := topo.Order()
		if err != nil {
			return err
		}
		fmt.Println(style.SuccessBox.Render("✓ start order: " + strings.Join(order, " → ")))
		return nil
	},
}

func init() {
	topologyCmd.AddCommand(topologyValidateCmd, topologyRenderCmd, topologyUpCmd, topologyDownCmd)
	rootCmd.AddCommand(topologyCmd)
}

func localTopology() (*topology.Topology, error) {
	cfg, _, err := localConfig()
	if err != nil {
		return nil, err
	}
	wd, _ := os.Getwd()
	return assembly.Topology(cfg, wd)
}

func localManager() (*topology.Manager, error) {
	_, log, err := localConfig()
	if err != nil {
		return nil, err
	}
	topo, err := localTopology()
	if err != nil {
		return nil, err
	}
	rt, err := topology.NewDockerRuntime()
	if err != nil {
		return nil, fmt.Errorf("docker: %w", err)
	}
	return topology.NewManager(topo, rt, log.Named("topology"))
}

func printStates(m *topology.Manager) {
	fmt.Println()
	for _, name := range m.Order() {
		state := m.State(name)
		fmt.Printf("  %s  %s %s\n", style.Dot(string(state)), style.Bold.Render(padRight(name, 16)), style.DimText.Render(string(state)))
	}
	fmt.Println()
}
