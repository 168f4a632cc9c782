package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/docintel/internal/cli"
	"github.com/cloo-solutions/docintel/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "docinteld",
		Short: "Document intelligence daemon and CLI",
		Long:  "docinteld serves the document API, runs the processing worker, and manages the schema and document queue",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.MigrateCmd())
	rootCmd.AddCommand(admin.DocumentsCmd())
	rootCmd.AddCommand(admin.ReindexCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
