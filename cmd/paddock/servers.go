package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/paddock/pkg/api"
	"github.com/cuemby/paddock/pkg/daemon"
	"github.com/cuemby/paddock/pkg/types"
)

// Server commands
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage game servers",
}

var serverCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a server and install it",
	Long: `Create a server from an egg and queue its installation on a node.

Without --node the least loaded node with room and a free allocation is
picked.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		egg, _ := cmd.Flags().GetString("egg")
		node, _ := cmd.Flags().GetString("node")
		allocation, _ := cmd.Flags().GetString("allocation")
		memory, _ := cmd.Flags().GetInt64("memory")
		disk, _ := cmd.Flags().GetInt64("disk")
		cpu, _ := cmd.Flags().GetInt64("cpu")
		envVars, _ := cmd.Flags().GetStringSlice("env")

		env, err := parseEnv(envVars)
		if err != nil {
			return err
		}

		server, err := c.CreateServer(api.CreateServerRequest{
			Name:         args[0],
			EggID:        egg,
			NodeID:       node,
			AllocationID: allocation,
			Limits:       types.Limits{Memory: memory, Disk: disk, CPU: cpu},
			Environment:  env,
		})
		if err != nil {
			return fmt.Errorf("failed to create server: %v", err)
		}

		fmt.Printf("✓ Server created: %s\n", server.UUID)
		fmt.Printf("  Node: %s\n", server.NodeID)
		fmt.Printf("  Allocation: %s\n", server.AllocationID)
		fmt.Printf("  Status: %s\n", server.Status)
		return nil
	},
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		servers, err := c.ListServers()
		if err != nil {
			return fmt.Errorf("failed to list servers: %v", err)
		}
		if len(servers) == 0 {
			fmt.Println("No servers found")
			return nil
		}

		fmt.Printf("%-38s %-20s %-38s %-18s %s\n", "UUID", "NAME", "NODE", "STATUS", "SUSPENDED")
		for _, s := range servers {
			fmt.Printf("%-38s %-20s %-38s %-18s %t\n", s.UUID, s.Name, s.NodeID, s.Status, s.Suspended)
		}
		return nil
	},
}

var serverTransferCmd = &cobra.Command{
	Use:   "transfer SERVER",
	Short: "Move a server to another node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		node, _ := cmd.Flags().GetString("node")
		allocation, _ := cmd.Flags().GetString("allocation")
		additional, _ := cmd.Flags().GetStringSlice("additional-allocation")
		start, _ := cmd.Flags().GetBool("start")

		result, err := c.TransferServer(args[0], api.TransferRequest{
			NodeID:                  node,
			AllocationID:            allocation,
			AdditionalAllocationIDs: additional,
			StartOnCompletion:       start,
		})
		if err != nil {
			return fmt.Errorf("failed to start transfer: %v", err)
		}

		fmt.Printf("✓ Transfer started: %s\n", result.TransferID)
		fmt.Printf("  %s -> %s\n", result.SourceNodeID, result.TargetNodeID)
		fmt.Println("The destination daemon reports completion on the remote API.")
		return nil
	},
}

var serverPowerCmd = &cobra.Command{
	Use:   "power SERVER start|stop|restart|kill",
	Short: "Send a power action",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		action := daemon.PowerAction(args[1])
		if !action.Valid() {
			return fmt.Errorf("action must be start, stop, restart or kill")
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		if err := c.Power(args[0], action); err != nil {
			return fmt.Errorf("failed to send power action: %v", err)
		}
		fmt.Printf("✓ %s sent to %s\n", action, args[0])
		return nil
	},
}

var serverResourcesCmd = &cobra.Command{
	Use:   "resources SERVER",
	Short: "Show a server's state and resource usage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		snapshot, err := c.ServerResources(args[0])
		if err != nil {
			return fmt.Errorf("failed to get resources: %v", err)
		}
		u := snapshot.Utilization
		fmt.Printf("State:     %s\n", snapshot.State)
		fmt.Printf("Suspended: %t\n", snapshot.IsSuspended)
		fmt.Printf("Memory:    %d / %d bytes\n", u.MemoryBytes, u.MemoryLimitBytes)
		fmt.Printf("CPU:       %.1f%%\n", u.CPUAbsolute)
		fmt.Printf("Disk:      %d bytes\n", u.DiskBytes)
		return nil
	},
}

// simpleServerCommand runs fn against the named server
func simpleServerCommand(use, short, done string, fn func(cmd *cobra.Command, ref string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " SERVER",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fn(cmd, args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ %s %s\n", args[0], done)
			return nil
		},
	}
}

var serverSuspendCmd = simpleServerCommand("suspend", "Suspend a server", "suspended", func(cmd *cobra.Command, ref string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	return c.Suspend(ref)
})

var serverUnsuspendCmd = simpleServerCommand("unsuspend", "Lift a suspension", "unsuspended", func(cmd *cobra.Command, ref string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	return c.Unsuspend(ref)
})

var serverReinstallCmd = simpleServerCommand("reinstall", "Rerun the install script", "reinstalling", func(cmd *cobra.Command, ref string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	return c.Reinstall(ref)
})

var serverBackupCmd = &cobra.Command{
	Use:   "backup SERVER",
	Short: "Start a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		adapter, _ := cmd.Flags().GetString("adapter")
		backup, err := c.CreateBackup(args[0], api.CreateBackupRequest{Name: name, Adapter: adapter})
		if err != nil {
			return fmt.Errorf("failed to start backup: %v", err)
		}
		fmt.Printf("✓ Backup started: %s\n", backup.UUID)
		return nil
	},
}

func init() {
	serverCmd.AddCommand(serverCreateCmd)
	serverCmd.AddCommand(serverListCmd)
	serverCmd.AddCommand(serverTransferCmd)
	serverCmd.AddCommand(serverPowerCmd)
	serverCmd.AddCommand(serverResourcesCmd)
	serverCmd.AddCommand(serverSuspendCmd)
	serverCmd.AddCommand(serverUnsuspendCmd)
	serverCmd.AddCommand(serverReinstallCmd)
	serverCmd.AddCommand(serverBackupCmd)

	serverCreateCmd.Flags().String("egg", "", "Egg ID (required)")
	serverCreateCmd.Flags().String("node", "", "Node ID; picked automatically when empty")
	serverCreateCmd.Flags().String("allocation", "", "Allocation ID, required with --node")
	serverCreateCmd.Flags().Int64("memory", 1024, "Memory limit in MiB")
	serverCreateCmd.Flags().Int64("disk", 5120, "Disk limit in MiB")
	serverCreateCmd.Flags().Int64("cpu", 0, "CPU limit in percent of one core, 0 for unlimited")
	serverCreateCmd.Flags().StringSliceP("env", "e", nil, "Environment variables (KEY=VALUE)")
	_ = serverCreateCmd.MarkFlagRequired("egg")

	serverTransferCmd.Flags().String("node", "", "Destination node ID (required)")
	serverTransferCmd.Flags().String("allocation", "", "Primary allocation on the destination (required)")
	serverTransferCmd.Flags().StringSlice("additional-allocation", nil, "Extra allocations on the destination")
	serverTransferCmd.Flags().Bool("start", false, "Start the server once the transfer completes")
	_ = serverTransferCmd.MarkFlagRequired("node")
	_ = serverTransferCmd.MarkFlagRequired("allocation")

	serverBackupCmd.Flags().String("name", "", "Backup name")
	serverBackupCmd.Flags().String("adapter", "", "Backup adapter: wings or s3")
}

// parseEnv turns KEY=VALUE pairs into a map
func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid environment variable %q, want KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}
