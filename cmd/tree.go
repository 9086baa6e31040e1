package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tandem-cli/internal/config"
	"github.com/xkilldash9x/tandem-cli/internal/observability"
	"github.com/xkilldash9x/tandem-cli/internal/service"
)

// newTreeCmd prints the sandbox layout the agents will see.
func newTreeCmd(cfg *config.Config) *cobra.Command {
	var depth, files int

	treeCmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the directory structure of the sandbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sb := cfg.Sandbox()
			if !cmd.Flags().Changed("depth") {
				depth = sb.TreeDepth
			}
			if !cmd.Flags().Changed("files") {
				files = sb.TreeFilesPerDir
			}

			backend, err := service.InitializeSandbox(sb, observability.GetLogger())
			if err != nil {
				return err
			}
			tree, err := backend.Tree(cmd.Context(), depth, files)
			if err != nil {
				return fmt.Errorf("failed to render sandbox tree: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), tree)
			return nil
		},
	}
	treeCmd.Flags().IntVar(&depth, "depth", 0, "maximum depth (overrides sandbox.tree_depth)")
	treeCmd.Flags().IntVar(&files, "files", 0, "maximum files listed per directory (overrides sandbox.tree_files_per_dir)")
	return treeCmd
}
