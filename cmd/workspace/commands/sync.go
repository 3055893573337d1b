package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskmaster/workspace/internal/application/services"
)

// NewSummaryCommand prints today's dashboard counters
func NewSummaryCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show today's counters",
		RunE: withWorkspace(false, func(cmd *cobra.Command, args []string, ws *workspace) error {
			summary := ws.store.Summary()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			fmt.Fprintf(out, "%s\n", summary.Date)
			fmt.Fprintf(out, "  open tasks:      %d (%d focused, %d overdue)\n", summary.OpenTasks, summary.FocusedTasks, summary.OverdueTasks)
			fmt.Fprintf(out, "  inbox:           %d\n", summary.InboxSize)
			fmt.Fprintf(out, "  events today:    %d\n", summary.TodayEvents)
			fmt.Fprintf(out, "  active projects: %d\n", summary.ActiveProjects)
			fmt.Fprintf(out, "  sync:            %s\n", ws.sync.StatusText())
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

// NewImportCommand replaces the document with a JSON export
func NewImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Replace the workspace with an exported document",
		Args:  cobra.ExactArgs(1),
		RunE: withWorkspace(true, func(cmd *cobra.Command, args []string, ws *workspace) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			if err := ws.store.Import(data); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Workspace imported")
			return nil
		}),
	}
}

// NewExportCommand writes the document as JSON
func NewExportCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the workspace as JSON",
		RunE: withWorkspace(false, func(cmd *cobra.Command, args []string, ws *workspace) error {
			data, err := ws.store.Export()
			if err != nil {
				return err
			}
			data = append(data, '\n')
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o600)
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}

// NewSyncCommand creates the sync command with subcommands
func NewSyncCommand() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize with the remote state server",
	}

	var (
		apiKey   string
		autoSync bool
	)
	configureCmd := &cobra.Command{
		Use:   "configure <url>",
		Short: "Set the server URL and API key",
		Args:  cobra.ExactArgs(1),
		RunE: withWorkspace(false, func(cmd *cobra.Command, args []string, ws *workspace) error {
			if err := ws.sync.Configure(args[0], apiKey, autoSync); err != nil {
				return err
			}
			if err := ws.store.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ws.sync.StatusText())
			return nil
		}),
	}
	configureCmd.Flags().StringVar(&apiKey, "api-key", "", "Pre-shared API key")
	configureCmd.Flags().BoolVar(&autoSync, "auto", true, "Push automatically after local changes")

	pushCmd := &cobra.Command{
		Use:   "push",
		Short: "Upload the local document",
		RunE: withWorkspace(false, func(cmd *cobra.Command, args []string, ws *workspace) error {
			return report(cmd, ws.sync.PushState(cmd.Context()))
		}),
	}

	var force bool
	pullCmd := &cobra.Command{
		Use:   "pull",
		Short: "Replace the local document with the remote one",
		RunE: withWorkspace(false, func(cmd *cobra.Command, args []string, ws *workspace) error {
			return report(cmd, ws.sync.PullState(cmd.Context(), services.PullOptions{OnlyIfNewer: !force}))
		}),
	}
	pullCmd.Flags().BoolVar(&force, "force", false, "Replace even when the remote copy is not newer")

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Pull if the remote is newer, then push",
		RunE: withWorkspace(false, func(cmd *cobra.Command, args []string, ws *workspace) error {
			result := ws.sync.Reconcile(cmd.Context())
			ws.sync.Wait()
			return report(cmd, result)
		}),
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sync status",
		RunE: withWorkspace(false, func(cmd *cobra.Command, args []string, ws *workspace) error {
			cfg := ws.sync.Config()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ws.sync.StatusText())
			if cfg.URL != "" {
				fmt.Fprintf(out, "  url:       %s\n", cfg.URL)
				fmt.Fprintf(out, "  auto-sync: %t\n", cfg.AutoSync)
			}
			return nil
		}),
	}

	syncCmd.AddCommand(configureCmd, pushCmd, pullCmd, reconcileCmd, statusCmd)
	return syncCmd
}

func report(cmd *cobra.Command, result services.SyncResult) error {
	fmt.Fprintln(cmd.OutOrStdout(), result.String())
	if result.OK || result.Busy {
		return nil
	}
	return result.Err
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}
