package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// Cluster commands
var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage control plane membership",
}

var clusterRemoveCmd = &cobra.Command{
	Use:   "remove NODE_ID",
	Short: "Remove a control plane member from the Raft cluster",
	Long: `Remove a control plane member from the Raft cluster.

Must be sent to the leader. Members join with "paddock serve --join".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		if err := c.RemoveVoter(args[0]); err != nil {
			return fmt.Errorf("failed to remove member: %v", err)
		}
		fmt.Printf("✓ %s removed from the cluster\n", args[0])
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the newest audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		events, err := c.ListAudit(limit)
		if err != nil {
			return fmt.Errorf("failed to list audit events: %v", err)
		}
		if len(events) == 0 {
			fmt.Println("No audit events")
			return nil
		}

		fmt.Printf("%-20s %-32s %-10s %-24s %s\n", "TIME", "EVENT", "ACTOR", "SUBJECT", "IP")
		for _, e := range events {
			fmt.Printf("%-20s %-32s %-10s %-24s %s\n",
				e.Timestamp.Local().Format(time.DateTime),
				e.Event,
				e.ActorType,
				e.SubjectType+":"+e.SubjectID,
				e.IP,
			)
		}
		return nil
	},
}

func init() {
	clusterCmd.AddCommand(clusterRemoveCmd)
	auditCmd.Flags().Int("limit", 50, "Number of events to show")
}
