// cmd/strata/refs.go
package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"strata/internal/history"
	"strata/internal/ident"
)

// newRefCmd builds the branch and tag commands, which differ only in namespace.
func newRefCmd(a *app, use, prefix string) *cobra.Command {
	var (
		at    string
		force bool
		del   bool
	)
	cmd := &cobra.Command{
		Use:   use + " [name]",
		Short: fmt.Sprintf("List, create, move or delete %ss", use),
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.repoID()
			if err != nil {
				return err
			}
			h, err := a.headers()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				return listRefs(a, h, id, prefix, cmd)
			}

			name, err := ident.ParseRefName(prefix + args[0])
			if err != nil {
				return err
			}
			if del {
				if err := a.svc.DeleteRef(h, id, name); err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted %s %s\n", use, args[0])
				return nil
			}

			target, err := resolveRev(a, h, id, at)
			if err != nil {
				return err
			}
			if err := a.svc.WriteRef(h, id, name, target, force); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s -> %s\n", strings.ToUpper(use[:1])+use[1:], args[0], color.YellowString(target.Short()))
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "HEAD", "revision the "+use+" points at")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "allow a non-fast-forward move (admin)")
	cmd.Flags().BoolVarP(&del, "delete", "d", false, "delete the "+use)
	return cmd
}

func listRefs(a *app, h http.Header, id ident.RepoID, prefix string, cmd *cobra.Command) error {
	all, err := a.svc.ListRefs(h, id)
	if err != nil {
		return err
	}
	head, err := a.svc.ReadHead(h, id)
	if err != nil {
		return err
	}
	green := color.New(color.FgGreen).SprintFunc()
	for _, r := range all {
		if !strings.HasPrefix(r.Name.String(), prefix) {
			continue
		}
		marker := "  "
		if r.Name == head.Ref {
			marker = green("* ")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s%s %s\n", marker, r.Name.Short(), r.Target.Short())
	}
	return nil
}

// resolveRev maps a revision to a commit id through the guarded log.
func resolveRev(a *app, h http.Header, id ident.RepoID, rev string) (ident.CommitID, error) {
	page, err := a.svc.Log(h, id, rev, history.Options{Limit: 1})
	if err != nil {
		return ident.CommitID{}, err
	}
	return page.Commits[0].ID, nil
}
