// cmd/strata/repo.go
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"strata/internal/ident"
	"strata/internal/repo"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the repository root from the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(a.cfg.Root, 0o755); err != nil {
				return fmt.Errorf("creating root: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Initialized strata root in", a.cfg.Root)
			return nil
		},
	}
}

func newRepoCmd(a *app) *cobra.Command {
	repoCmd := &cobra.Command{
		Use:   "repo",
		Short: "Create, inspect and delete repositories",
	}

	var name, description string
	createCmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ident.ParseRepoID(args[0])
			if err != nil {
				return err
			}
			h, err := a.headers()
			if err != nil {
				return err
			}
			if name == "" {
				name = args[0]
			}
			meta, err := a.svc.CreateRepo(h, id, name, description)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created repository %s (default branch %s)\n", meta.ID, meta.DefaultBranch)
			return nil
		},
	}
	createCmd.Flags().StringVarP(&name, "name", "n", "", "display name (defaults to the id)")
	createCmd.Flags().StringVarP(&description, "description", "d", "", "description")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List repositories you can read",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.headers()
			if err != nil {
				return err
			}
			repos, err := a.svc.ListRepos(h)
			if err != nil {
				return err
			}
			if len(repos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No repositories found")
				return nil
			}
			bold := color.New(color.Bold).SprintFunc()
			for _, m := range repos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", bold(m.ID), m.Name, m.Description)
			}
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show repository metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ident.ParseRepoID(args[0])
			if err != nil {
				return err
			}
			h, err := a.headers()
			if err != nil {
				return err
			}
			meta, err := a.svc.GetRepo(h, id)
			if err != nil {
				return err
			}
			printMetadata(cmd, meta)
			return nil
		},
	}

	var newName, newDescription string
	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a repository's name or description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ident.ParseRepoID(args[0])
			if err != nil {
				return err
			}
			h, err := a.headers()
			if err != nil {
				return err
			}
			current, err := a.svc.GetRepo(h, id)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("name") {
				newName = current.Name
			}
			if !cmd.Flags().Changed("description") {
				newDescription = current.Description
			}
			meta, err := a.svc.UpdateRepo(h, id, newName, newDescription)
			if err != nil {
				return err
			}
			printMetadata(cmd, meta)
			return nil
		},
	}
	updateCmd.Flags().StringVarP(&newName, "name", "n", "", "display name")
	updateCmd.Flags().StringVarP(&newDescription, "description", "d", "", "description")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a repository and everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ident.ParseRepoID(args[0])
			if err != nil {
				return err
			}
			h, err := a.headers()
			if err != nil {
				return err
			}
			if err := a.svc.DeleteRepo(h, id); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Deleted repository", id)
			return nil
		},
	}

	repoCmd.AddCommand(createCmd, listCmd, showCmd, updateCmd, deleteCmd)
	return repoCmd
}

func printMetadata(cmd *cobra.Command, m *repo.Metadata) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:             %s\n", m.ID)
	fmt.Fprintf(out, "Name:           %s\n", m.Name)
	fmt.Fprintf(out, "Description:    %s\n", m.Description)
	fmt.Fprintf(out, "Default branch: %s\n", m.DefaultBranch)
	fmt.Fprintf(out, "Created:        %s\n", m.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Updated:        %s\n", m.UpdatedAt.Format(time.RFC3339))
}
