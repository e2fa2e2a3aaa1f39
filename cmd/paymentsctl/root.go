package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-payables/internal/app"
	"github.com/odyssey-erp/odyssey-payables/internal/platform/db"
)

var version = "dev"

// exitError carries a non-default exit status without printing anything.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// env holds the outputs and backend factories shared by every command.
type env struct {
	stdout io.Writer
	stderr io.Writer

	jobs     func() (*JobsCLI, error)
	migrator func() (schemaMigrator, error)
}

func defaultEnv(stdout, stderr io.Writer) *env {
	e := &env{stdout: stdout, stderr: stderr}
	e.jobs = func() (*JobsCLI, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		return NewJobsCLI(cfg.Redis().Asynq()), nil
	}
	e.migrator = func() (schemaMigrator, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		logger := slog.New(slog.NewTextHandler(stderr, nil))
		return db.NewMigrator(cfg.PGDSN, logger)
	}
	return e
}

func loadConfig() (*app.Config, error) {
	_ = godotenv.Load()
	return app.LoadConfig()
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "paymentsctl",
		Short:         "Operator tooling for supplier payments",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(e.stdout)
	root.SetErr(e.stderr)
	root.AddCommand(newReconcileCmd(e), newJobsCmd(e), newMigrateCmd(e))
	return root
}
