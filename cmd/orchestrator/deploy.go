package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sugu-Inc/modern-onap-so/internal/application"
	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

// templateFile is the on-disk YAML shape of a deployment template. The
// domain types carry no YAML tags, so the file schema lives here.
type templateFile struct {
	Name    string `yaml:"name"`
	Network struct {
		CIDR         string `yaml:"cidr"`
		AttachRouter bool   `yaml:"attach_router"`
	} `yaml:"network"`
	VMGroups []struct {
		Name   string `yaml:"name"`
		Flavor string `yaml:"flavor"`
		Image  string `yaml:"image"`
		Count  int    `yaml:"count"`
	} `yaml:"vm_groups"`
}

// loadTemplate reads and strictly decodes a template file. Unknown keys
// are errors so typos surface before anything is provisioned.
func loadTemplate(path string) (string, domain.Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", domain.Template{}, fmt.Errorf("read template: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var tf templateFile
	if err := dec.Decode(&tf); err != nil {
		return "", domain.Template{}, fmt.Errorf("parse template %s: %w", path, err)
	}

	tpl := domain.Template{
		Network: domain.NetworkSpec{
			CIDR:         tf.Network.CIDR,
			AttachRouter: tf.Network.AttachRouter,
		},
	}
	for _, g := range tf.VMGroups {
		tpl.VMGroups = append(tpl.VMGroups, domain.VMGroupSpec{
			Name:   g.Name,
			Flavor: g.Flavor,
			Image:  g.Image,
			Count:  g.Count,
		})
	}
	return tf.Name, tpl, nil
}

var (
	deployFile    string
	deployName    string
	deployID      string
	deployRegion  string
	deployVMCount int
	deployFlavor  string
	deployImage   string
	deployMeta    []string
	deployDetach  bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a template",
	Long: `Creates a deployment from a YAML template and runs its deploy
workflow. Template example:

  name: web-stack
  network:
    cidr: 192.168.10.0/24
    attach_router: true
  vm_groups:
    - name: web
      flavor: m1.small
      image: ubuntu-22.04
      count: 2

--vm-count, --flavor and --image override the template per run without
editing the file. By default the command waits for the workflow to
finish; --detach returns immediately after it is started.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		fileName, tpl, err := loadTemplate(deployFile)
		if err != nil {
			return err
		}
		name := deployName
		if name == "" {
			name = fileName
		}
		metadata, err := parseKeyValues(deployMeta)
		if err != nil {
			return fmt.Errorf("--meta: %w", err)
		}

		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		dep, handle, err := rt.service.StartDeploy(ctx, application.CreateDeploymentInput{
			ID:       domain.DeploymentID(deployID),
			Name:     name,
			Template: tpl,
			Parameters: domain.Parameters{
				VMCount: deployVMCount,
				Flavor:  deployFlavor,
				Image:   deployImage,
			},
			CloudRegion: deployRegion,
			Metadata:    metadata,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Deployment %s (%s) started, workflow %s\n", dep.ID, dep.Name, handle.WorkflowID())
		if deployDetach {
			return nil
		}

		res, err := handle.AwaitResult(ctx)
		if err != nil {
			return fmt.Errorf("await deploy: %w", err)
		}
		fmt.Printf("Deployment %s: %s\n", res.DeploymentID, res.Status)
		if res.Resources != nil {
			printManifest(res.Resources)
		}
		return statusError(res.Status, res.Failure, domain.StatusCompleted)
	},
}

func init() {
	deployCmd.Flags().StringVarP(&deployFile, "file", "f", "", "template file (required)")
	deployCmd.Flags().StringVar(&deployName, "name", "", "deployment name (default: template name, then id)")
	deployCmd.Flags().StringVar(&deployID, "id", "", "deployment id (default: generated)")
	deployCmd.Flags().StringVar(&deployRegion, "region", "", "cloud region recorded on the deployment")
	deployCmd.Flags().IntVar(&deployVMCount, "vm-count", 0, "override the template VM count (single-group templates)")
	deployCmd.Flags().StringVar(&deployFlavor, "flavor", "", "override the template flavor")
	deployCmd.Flags().StringVar(&deployImage, "image", "", "override the template image")
	deployCmd.Flags().StringArrayVar(&deployMeta, "meta", nil, "metadata key=value (repeatable)")
	deployCmd.Flags().BoolVar(&deployDetach, "detach", false, "start the workflow and exit without waiting")
	_ = deployCmd.MarkFlagRequired("file")
}
