package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

type schemaMigrator interface {
	Up() error
	Down(n int) error
	Version() (version uint, dirty bool, ok bool, err error)
	Close() error
}

func newMigrateCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the embedded schema migrations",
	}

	withMigrator := func(fn func(schemaMigrator) error) error {
		m, err := e.migrator()
		if err != nil {
			return err
		}
		return errors.Join(fn(m), m.Close())
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m schemaMigrator) error {
				return m.Up()
			})
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, _ := cmd.Flags().GetBool("all")
			if !all && steps <= 0 {
				return errors.New("migrate down: pass --steps N or --all")
			}
			if all {
				steps = 0
			}
			return withMigrator(func(m schemaMigrator) error {
				return m.Down(steps)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	down.Flags().Bool("all", false, "roll back every migration")

	ver := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m schemaMigrator) error {
				v, dirty, ok, err := m.Version()
				if err != nil {
					return err
				}
				if !ok {
					_, _ = fmt.Fprintln(e.stdout, "no migrations applied")
					return nil
				}
				_, _ = fmt.Fprintf(e.stdout, "version=%d dirty=%t\n", v, dirty)
				return nil
			})
		},
	}

	cmd.AddCommand(up, down, ver)
	return cmd
}
