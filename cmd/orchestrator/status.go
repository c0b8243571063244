package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

func printManifest(m *domain.ResourceManifest) {
	if m.NetworkID != "" {
		line := fmt.Sprintf("Network: %s", m.NetworkID)
		if m.RouterID != "" {
			line += fmt.Sprintf(" (router %s)", m.RouterID)
		}
		fmt.Println(line)
	}
	if len(m.VMs) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tGROUP\tID\tIP")
	for _, vm := range m.VMs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", vm.Name, vm.Group, vm.ID, vm.IP)
	}
	_ = w.Flush()
}

var statusRuns bool

var statusCmd = &cobra.Command{
	Use:   "status <deployment-id>",
	Short: "Show a deployment's state and resources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		id := domain.DeploymentID(args[0])
		d, err := rt.service.Get(ctx, id)
		if err != nil {
			return err
		}

		fmt.Printf("ID:      %s\n", d.ID)
		fmt.Printf("Name:    %s\n", d.Name)
		fmt.Printf("Status:  %s\n", d.Status)
		if d.CloudRegion != "" {
			fmt.Printf("Region:  %s\n", d.CloudRegion)
		}
		fmt.Printf("Created: %s\n", d.CreatedAt.Format(time.RFC3339))
		fmt.Printf("Updated: %s\n", d.UpdatedAt.Format(time.RFC3339))
		if d.DeletedAt != nil {
			fmt.Printf("Deleted: %s\n", d.DeletedAt.Format(time.RFC3339))
		}
		if d.Failure != nil {
			fmt.Printf("Failure: %s (%s): %s\n", d.Failure.Activity, d.Failure.Kind, d.Failure.Message)
		}
		if len(d.Metadata) > 0 {
			keys := make([]string, 0, len(d.Metadata))
			for k := range d.Metadata {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			pairs := make([]string, 0, len(keys))
			for _, k := range keys {
				pairs = append(pairs, k+"="+d.Metadata[k])
			}
			fmt.Printf("Metadata: %s\n", strings.Join(pairs, " "))
		}
		if d.Resources != nil && !d.Resources.Empty() {
			printManifest(d.Resources)
		}

		if !statusRuns {
			return nil
		}
		runs, err := rt.service.ConfigurationRuns(ctx, id)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No configuration runs.")
			return nil
		}
		fmt.Println("Configuration runs:")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "EXECUTION\tPLAYBOOK\tSTATUS\tEXIT\tSTARTED\tMESSAGE")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				r.ExecutionID, r.Playbook, r.Status, r.ExitCode,
				r.StartedAt.Format(time.RFC3339), r.Message)
		}
		return w.Flush()
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		deployments, err := rt.service.List(ctx)
		if err != nil {
			return err
		}
		if len(deployments) == 0 {
			fmt.Println("No deployments.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tVMS\tREGION\tUPDATED")
		for _, d := range deployments {
			vms := 0
			if d.Resources != nil {
				vms = len(d.Resources.VMs)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				d.ID, d.Name, d.Status, vms, d.CloudRegion,
				d.UpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <deployment-id>",
	Short: "Sweep orphaned backend resources for a deployment",
	Long: `Deletes backend resources tagged with the deployment id that the
manifest no longer tracks, e.g. VMs left behind by an interrupted
rollback. Runs synchronously, outside the workflow engine.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		out, err := rt.service.RunOrphanCleanup(ctx, domain.DeploymentID(args[0]))
		if err != nil {
			return err
		}
		if len(out.DeletedVMIDs) == 0 && len(out.DeletedNetworkIDs) == 0 {
			fmt.Println("No orphans found.")
			return nil
		}
		for _, id := range out.DeletedVMIDs {
			fmt.Printf("deleted VM %s\n", id)
		}
		for _, id := range out.DeletedNetworkIDs {
			fmt.Printf("deleted network %s\n", id)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusRuns, "runs", false, "include configuration run history")
}
