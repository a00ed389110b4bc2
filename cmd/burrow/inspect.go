package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/capacity"
	"github.com/cuemby/burrow/pkg/client"
)

const defaultAgentAddr = "127.0.0.1:7762"

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent operations recorded by an agent",
	Long: `Show the operation journal of a running agent, newest first.

Failed operations list every step with its status so partial state left
behind by a failure can be cleaned up by hand.`,
	RunE: runHistory,
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List iSCSI targets registered on an agent",
	RunE:  runTargets,
}

var capacityCmd = &cobra.Command{
	Use:   "capacity ROOT",
	Short: "Print the capacity of a storage root",
	Args:  cobra.ExactArgs(1),
	RunE:  runCapacity,
}

func init() {
	historyCmd.Flags().String("addr", defaultAgentAddr, "Agent address")
	historyCmd.Flags().Int("limit", 20, "Maximum number of operations to show (0 for all)")
	targetsCmd.Flags().String("addr", defaultAgentAddr, "Agent address")
}

func runHistory(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	limit, _ := cmd.Flags().GetInt("limit")

	c, err := client.NewClient(addr)
	if err != nil {
		return err
	}
	entries, err := c.ListJournal(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("failed to list journal: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No operations recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tOPERATION\tVOLUME\tINSTALL PATH\tDURATION\tRESULT")
	for _, e := range entries {
		result := "ok"
		if !e.Success {
			result = string(e.ErrorCode)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.StartedAt.Local().Format(time.DateTime),
			e.Operation,
			dash(e.VolumeUUID),
			dash(e.InstallPath),
			e.FinishedAt.Sub(e.StartedAt).Round(time.Millisecond),
			result,
		)
		if e.Success {
			continue
		}
		for _, s := range e.Steps {
			line := fmt.Sprintf("  %s: %s", s.Name, s.Status)
			if s.Error != "" {
				line += " (" + s.Error + ")"
			}
			fmt.Fprintf(w, "\t%s\t\t\t\t\n", line)
		}
	}
	return w.Flush()
}

func runTargets(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	c, err := client.NewClient(addr)
	if err != nil {
		return err
	}
	targets, err := c.ListTargets(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list targets: %w", err)
	}

	if len(targets) == 0 {
		fmt.Println("No targets registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVOLUME\tBACKING STORE\tCHAP")
	for _, t := range targets {
		chap := "no"
		if t.CHAP {
			chap = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.VolumeUUID, t.BackingStore, chap)
	}
	return w.Flush()
}

func runCapacity(cmd *cobra.Command, args []string) error {
	snap, err := capacity.NewFSProber().Probe(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Root:      %s\n", args[0])
	fmt.Printf("Total:     %s\n", humanize.IBytes(uint64(snap.Total)))
	fmt.Printf("Used:      %s\n", humanize.IBytes(uint64(snap.Used())))
	fmt.Printf("Available: %s\n", humanize.IBytes(uint64(snap.Available)))
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
