package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/paddock/pkg/api"
)

// Node commands
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage nodes",
}

var nodeCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Register a node daemon",
	Long: `Register a node daemon with the control plane.

The daemon token is printed once. Configure it on the daemon as
"<token id>.<token>"; the control plane only keeps it encrypted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		fqdn, _ := cmd.Flags().GetString("fqdn")
		scheme, _ := cmd.Flags().GetString("scheme")
		port, _ := cmd.Flags().GetInt("daemon-port")
		memory, _ := cmd.Flags().GetInt64("memory")
		memoryOver, _ := cmd.Flags().GetInt64("memory-overallocate")
		disk, _ := cmd.Flags().GetInt64("disk")
		diskOver, _ := cmd.Flags().GetInt64("disk-overallocate")

		resp, err := c.CreateNode(api.CreateNodeRequest{
			Name:               args[0],
			Scheme:             scheme,
			FQDN:               fqdn,
			DaemonListen:       port,
			Memory:             memory,
			MemoryOverallocate: memoryOver,
			Disk:               disk,
			DiskOverallocate:   diskOver,
		})
		if err != nil {
			return fmt.Errorf("failed to create node: %v", err)
		}

		fmt.Printf("✓ Node created: %s\n", resp.Node.ID)
		fmt.Printf("  Daemon URL: %s://%s:%d\n", resp.Node.Scheme, resp.Node.FQDN, resp.Node.DaemonListen)
		fmt.Printf("  Token ID:   %s\n", resp.TokenID)
		fmt.Printf("  Token:      %s\n", resp.Token)
		fmt.Println()
		fmt.Println("Store the token now; it cannot be shown again.")
		return nil
	},
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		nodes, err := c.ListNodes()
		if err != nil {
			return fmt.Errorf("failed to list nodes: %v", err)
		}
		if len(nodes) == 0 {
			fmt.Println("No nodes found")
			return nil
		}

		fmt.Printf("%-38s %-16s %-32s %-10s %-10s\n", "ID", "NAME", "DAEMON", "MEMORY", "DISK")
		for _, n := range nodes {
			fmt.Printf("%-38s %-16s %-32s %-10s %-10s\n",
				n.ID, n.Name, fmt.Sprintf("%s:%d", n.FQDN, n.DaemonListen),
				strconv.FormatInt(n.Memory, 10)+"M", strconv.FormatInt(n.Disk, 10)+"M")
		}
		return nil
	},
}

var nodeSystemCmd = &cobra.Command{
	Use:   "system NODE",
	Short: "Show a node daemon's host information",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		resp, err := c.NodeSystem(args[0])
		if err != nil {
			return fmt.Errorf("failed to query node: %v", err)
		}
		fmt.Printf("State: %s\n", resp.State)
		if info, ok := resp.Info.(map[string]interface{}); ok {
			for _, key := range []string{"version", "os", "architecture", "kernel_version", "cpu_count"} {
				if v, ok := info[key]; ok {
					fmt.Printf("%s: %v\n", key, v)
				}
			}
		}
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeCreateCmd)
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeSystemCmd)

	nodeCreateCmd.Flags().String("fqdn", "", "Daemon host name (required)")
	nodeCreateCmd.Flags().String("scheme", "https", "Daemon scheme: http or https")
	nodeCreateCmd.Flags().Int("daemon-port", 8080, "Daemon API port")
	nodeCreateCmd.Flags().Int64("memory", 0, "Memory in MiB")
	nodeCreateCmd.Flags().Int64("memory-overallocate", 0, "Memory overallocation percent, -1 for unlimited")
	nodeCreateCmd.Flags().Int64("disk", 0, "Disk in MiB")
	nodeCreateCmd.Flags().Int64("disk-overallocate", 0, "Disk overallocation percent, -1 for unlimited")
	_ = nodeCreateCmd.MarkFlagRequired("fqdn")
}

// Allocation commands
var allocationCmd = &cobra.Command{
	Use:   "allocation",
	Short: "Manage node allocations",
}

var allocationAddCmd = &cobra.Command{
	Use:   "add NODE IP PORTS",
	Short: "Add IP:port allocations to a node",
	Long: `Add allocations to a node. PORTS is a comma separated list of ports
and ranges, for example "25565,25570-25580".`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := parsePorts(args[2])
		if err != nil {
			return err
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		alias, _ := cmd.Flags().GetString("alias")

		allocations, err := c.CreateAllocations(args[0], args[1], ports, alias)
		if err != nil {
			return fmt.Errorf("failed to add allocations: %v", err)
		}
		fmt.Printf("✓ Added %d allocations to node %s\n", len(allocations), args[0])
		return nil
	},
}

var allocationListCmd = &cobra.Command{
	Use:   "list NODE",
	Short: "List a node's allocations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		allocations, err := c.ListAllocations(args[0])
		if err != nil {
			return fmt.Errorf("failed to list allocations: %v", err)
		}
		fmt.Printf("%-8s %-22s %-38s\n", "ID", "ADDRESS", "SERVER")
		for _, a := range allocations {
			server := a.ServerID
			if server == "" {
				server = "-"
			}
			fmt.Printf("%-8s %-22s %-38s\n", a.ID, fmt.Sprintf("%s:%d", a.IP, a.Port), server)
		}
		return nil
	},
}

func init() {
	allocationCmd.AddCommand(allocationAddCmd)
	allocationCmd.AddCommand(allocationListCmd)

	allocationAddCmd.Flags().String("alias", "", "Display alias for the IP")
}

// parsePorts expands "25565,25570-25572" into individual ports
func parsePorts(list string) ([]int, error) {
	var ports []int
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", lo)
		}
		end := start
		if isRange {
			if end, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("invalid port %q", hi)
			}
		}
		if end < start {
			return nil, fmt.Errorf("invalid port range %q", part)
		}
		if end-start > 1000 {
			return nil, fmt.Errorf("port range %q is larger than 1000 ports", part)
		}
		for p := start; p <= end; p++ {
			ports = append(ports, p)
		}
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no ports given")
	}
	return ports, nil
}
