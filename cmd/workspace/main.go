package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskmaster/workspace/cmd/workspace/commands"
)

// @title Workspace State API
// @version 1.0
// @description Single-document state store for the workspace sync client

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

func main() {
	rootCmd := &cobra.Command{
		Use:           "workspace",
		Short:         "Personal workspace with optional remote sync",
		Long:          `Workspace keeps tasks, events, notes, projects and an inbox in one local document and can mirror it to a remote state server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewMigrateCommand())
	rootCmd.AddCommand(commands.NewVersionCommand())

	rootCmd.AddCommand(commands.NewTaskCommand())
	rootCmd.AddCommand(commands.NewInboxCommand())
	rootCmd.AddCommand(commands.NewEventCommand())
	rootCmd.AddCommand(commands.NewNoteCommand())
	rootCmd.AddCommand(commands.NewProjectCommand())
	rootCmd.AddCommand(commands.NewAreaCommand())
	rootCmd.AddCommand(commands.NewReviewCommand())
	rootCmd.AddCommand(commands.NewSummaryCommand())
	rootCmd.AddCommand(commands.NewImportCommand())
	rootCmd.AddCommand(commands.NewExportCommand())
	rootCmd.AddCommand(commands.NewSyncCommand())

	if err := rootCmd.Execute(); err != nil {
		log.Printf("Command execution failed: %v", err)
		os.Exit(1)
	}
}
