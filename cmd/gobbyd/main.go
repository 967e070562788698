// gobbyd is the local coordination daemon: it receives assistant hook
// events over HTTP, evaluates them through the workflow engine, and answers
// with allow/block decisions and injected context.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/gobby/loader"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gobbyd",
		Short:         "Local workflow coordination daemon for AI coding assistants",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), validateCmd(), mcpCmd())
	return root
}

func mcpCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the gobby workflow MCP server over stdio",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runMCPServer(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to daemon config YAML")
	return cmd
}

func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon and serve the hook endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to daemon config YAML")
	return cmd
}

func validateCmd() *cobra.Command {
	var projectPath string
	cmd := &cobra.Command{
		Use:   "validate <workflow>",
		Short: "Load and validate a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectPath == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				projectPath = wd
			}
			ld := loader.New(loader.WithLogger(slog.Default()))
			wf, err := ld.LoadWorkflow(args[0], projectPath)
			if err != nil {
				return fmt.Errorf("workflow %q: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "workflow %q is valid (%d steps, enabled=%v)\n",
				wf.Name, len(wf.Steps), wf.Enabled)
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectPath, "project", "p", "", "project directory to resolve workflows against")
	return cmd
}
