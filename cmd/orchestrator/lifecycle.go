package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sugu-Inc/modern-onap-so/internal/application"
	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

// parseKeyValues splits repeated key=value flags into a map. A nil map
// is returned when no flags were given.
func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%q is not key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

// statusError turns a non-success workflow outcome into a command error
// so the process exits non-zero.
func statusError(got domain.DeploymentStatus, failure *domain.FailureInfo, want domain.DeploymentStatus) error {
	if got == want {
		return nil
	}
	if failure != nil {
		msg := fmt.Sprintf("finished %s: %s failed (%s): %s", got, failure.Activity, failure.Kind, failure.Message)
		if failure.RollbackComplete != nil {
			if *failure.RollbackComplete {
				msg += "; rollback complete"
			} else {
				msg += "; rollback incomplete, resources may remain"
			}
		}
		for _, m := range failure.Mutations {
			msg += fmt.Sprintf("; mutation %s: %s", m.Field, m.Message)
		}
		return fmt.Errorf("%s", msg)
	}
	return fmt.Errorf("finished %s, wanted %s", got, want)
}

var (
	deleteOrphans bool
	deleteDetach  bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete <deployment-id>",
	Short: "Delete a deployment's infrastructure",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		handle, err := rt.service.StartDelete(ctx, domain.DeploymentID(args[0]), application.DeleteOptions{
			CleanupOrphans: deleteOrphans,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Delete started, workflow %s\n", handle.WorkflowID())
		if deleteDetach {
			return nil
		}

		res, err := handle.AwaitResult(ctx)
		if err != nil {
			return fmt.Errorf("await delete: %w", err)
		}
		fmt.Printf("Deployment %s: %s\n", res.DeploymentID, res.Status)
		return statusError(res.Status, res.Failure, domain.StatusDeleted)
	},
}

var (
	scaleCount  int
	scaleGroup  string
	scaleDetach bool
)

var scaleCmd = &cobra.Command{
	Use:   "scale <deployment-id>",
	Short: "Scale a VM group to a target count",
	Long: `Scales one VM group out or in. --group may be omitted when the
template has exactly one group. Scale-in removes the newest VMs first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		handle, err := rt.service.StartScale(ctx, domain.DeploymentID(args[0]), application.ScaleRequest{
			Group:       scaleGroup,
			TargetCount: scaleCount,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Scale started, workflow %s\n", handle.WorkflowID())
		if scaleDetach {
			return nil
		}

		res, err := handle.AwaitResult(ctx)
		if err != nil {
			return fmt.Errorf("await scale: %w", err)
		}
		fmt.Printf("Deployment %s: %s (%s %d -> %d)\n",
			res.DeploymentID, res.Status, res.Operation, res.PreviousCount, res.CurrentCount)
		for _, id := range res.CreatedVMIDs {
			fmt.Printf("  created %s\n", id)
		}
		for _, id := range res.RemovedVMIDs {
			fmt.Printf("  removed %s\n", id)
		}
		return statusError(res.Status, res.Failure, domain.StatusCompleted)
	},
}

var (
	configurePlaybook string
	configureVars     []string
	configureLimit    string
	configureDetach   bool
)

var configureCmd = &cobra.Command{
	Use:   "configure <deployment-id>",
	Short: "Run a playbook against a deployment's VMs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		extraVars, err := parseKeyValues(configureVars)
		if err != nil {
			return fmt.Errorf("--var: %w", err)
		}

		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		handle, err := rt.service.StartConfigure(ctx, domain.DeploymentID(args[0]), application.ConfigureRequest{
			Playbook:  configurePlaybook,
			ExtraVars: extraVars,
			Limit:     configureLimit,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Configure started, workflow %s\n", handle.WorkflowID())
		if configureDetach {
			return nil
		}

		res, err := handle.AwaitResult(ctx)
		if err != nil {
			return fmt.Errorf("await configure: %w", err)
		}
		fmt.Printf("Deployment %s: %s (execution %s)\n", res.DeploymentID, res.Status, res.ExecutionID)
		if len(res.ConfiguredHosts) > 0 {
			fmt.Printf("  hosts: %s\n", strings.Join(res.ConfiguredHosts, ", "))
		}
		return statusError(res.Status, res.Failure, domain.StatusCompleted)
	},
}

var (
	updateFlavor string
	updateCIDR   string
	updateDetach bool
)

var updateCmd = &cobra.Command{
	Use:   "update <deployment-id>",
	Short: "Mutate a deployment's flavor or network CIDR in place",
	Long: `Applies in-place mutations to live infrastructure. A flavor change
resizes every VM; a CIDR change replaces the subnet and reattaches the
router. At least one of --flavor or --cidr is required.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		handle, err := rt.service.StartUpdate(ctx, domain.DeploymentID(args[0]), domain.UpdateDiff{
			Flavor:      updateFlavor,
			NetworkCIDR: updateCIDR,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Update started, workflow %s\n", handle.WorkflowID())
		if updateDetach {
			return nil
		}

		res, err := handle.AwaitResult(ctx)
		if err != nil {
			return fmt.Errorf("await update: %w", err)
		}
		fmt.Printf("Deployment %s: %s\n", res.DeploymentID, res.Status)
		if len(res.Applied) > 0 {
			fmt.Printf("  applied: %s\n", strings.Join(res.Applied, ", "))
		}
		return statusError(res.Status, res.Failure, domain.StatusCompleted)
	},
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteOrphans, "cleanup-orphans", false, "also sweep tagged backend resources missing from the manifest")
	deleteCmd.Flags().BoolVar(&deleteDetach, "detach", false, "start the workflow and exit without waiting")

	scaleCmd.Flags().IntVar(&scaleCount, "count", 0, "target VM count (required)")
	scaleCmd.Flags().StringVar(&scaleGroup, "group", "", "VM group to scale")
	scaleCmd.Flags().BoolVar(&scaleDetach, "detach", false, "start the workflow and exit without waiting")
	_ = scaleCmd.MarkFlagRequired("count")

	configureCmd.Flags().StringVar(&configurePlaybook, "playbook", "", "playbook to run (required)")
	configureCmd.Flags().StringArrayVar(&configureVars, "var", nil, "extra variable key=value (repeatable)")
	configureCmd.Flags().StringVar(&configureLimit, "limit", "", "ansible --limit pattern")
	configureCmd.Flags().BoolVar(&configureDetach, "detach", false, "start the workflow and exit without waiting")
	_ = configureCmd.MarkFlagRequired("playbook")

	updateCmd.Flags().StringVar(&updateFlavor, "flavor", "", "new flavor for every VM")
	updateCmd.Flags().StringVar(&updateCIDR, "cidr", "", "new network CIDR")
	updateCmd.Flags().BoolVar(&updateDetach, "detach", false, "start the workflow and exit without waiting")
}
