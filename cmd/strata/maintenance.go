// cmd/strata/maintenance.go
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"strata/internal/archive"
	"strata/internal/auth"
	"strata/internal/commit"
	"strata/internal/ident"
	"strata/internal/service"
	"strata/internal/watch"
)

func newArchiveCmd(a *app) *cobra.Command {
	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Export revisions as tar.zst snapshots",
	}

	var output string
	var level int
	exportCmd := &cobra.Command{
		Use:   "export <revision>",
		Short: "Write a revision's files to a tar.zst archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.repoID()
			if err != nil {
				return err
			}
			h, err := a.headers()
			if err != nil {
				return err
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating %s: %w", output, err)
			}
			sum, err := a.svc.Archive(h, id, args[0], f, archive.Options{Level: level, Logger: a.log})
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(output)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s: %d file(s), %d byte(s) from %s\n",
				output, sum.Files, sum.Bytes, sum.Commit.Short())
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&output, "output", "o", "snapshot.tar.zst", "archive path")
	exportCmd.Flags().IntVar(&level, "level", 0, "zstd level 1-4 (default 2)")

	extractCmd := &cobra.Command{
		Use:   "extract <archive> <dir>",
		Short: "Unpack a tar.zst archive into a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := archive.ExtractFile(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Extracted %d file(s) into %s\n", sum.Files, args[1])
			return nil
		},
	}

	archiveCmd.AddCommand(exportCmd, extractCmd)
	return archiveCmd
}

func newFsckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fsck",
		Short: "Verify object integrity and ref targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.repoID()
			if err != nil {
				return err
			}
			h, err := a.headers()
			if err != nil {
				return err
			}
			report, err := a.svc.Fsck(h, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			red := color.New(color.FgRed).SprintFunc()
			for _, oid := range report.Corrupt {
				fmt.Fprintf(out, "%s %s\n", red("corrupt"), oid)
			}
			for _, name := range report.Dangling {
				fmt.Fprintf(out, "%s %s\n", red("broken ref"), name)
			}
			if !report.OK() {
				return fmt.Errorf("fsck: %d corrupt object(s), %d broken ref(s)", len(report.Corrupt), len(report.Dangling))
			}
			fmt.Fprintf(out, "%s %d object(s) verified\n", color.GreenString("ok"), report.Objects)
			return nil
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	var (
		branch   string
		debounce time.Duration
		ignore   []string
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Commit a directory automatically whenever it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.repoID()
			if err != nil {
				return err
			}
			h, err := a.headers()
			if err != nil {
				return err
			}
			r, err := a.svc.Repository(h, id)
			if err != nil {
				return err
			}
			ref, err := service.ResolveBranch(r, branch)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			w, err := watch.New(watch.Options{
				Repo:     r,
				Dir:      args[0],
				Branch:   ref,
				Author:   localSubject(),
				Debounce: debounce,
				Ignore:   ignore,
				Logger:   a.log,
				OnCommit: func(res *commit.Result) {
					fmt.Fprintf(out, "[%s] %s\n", color.YellowString(res.Commit.Short()), ref.Short())
				},
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Fprintf(out, "Watching %s -> %s (Ctrl-C to stop)\n", args[0], ref.Short())
			return w.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch to commit to (default: HEAD's branch)")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before committing")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "directory names or globs to skip")
	return cmd
}

func newAuditCmd(a *app) *cobra.Command {
	var (
		filter  auth.Filter
		outcome string
		since   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show authorization decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.headers()
			if err != nil {
				return err
			}
			if outcome != "" {
				filter.Outcome = auth.Outcome(outcome)
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			filter.RepoID = a.repoFlag

			entries, err := a.svc.AuditEntries(h, filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				mark := color.GreenString(string(e.Outcome))
				if e.Outcome == auth.Denied {
					mark = color.RedString(string(e.Outcome))
				}
				fmt.Fprintf(out, "%s  %-7s  %-10s  %-14s  %s  %s\n",
					e.Time.Format(time.RFC3339), mark, e.Subject, e.Action, e.RepoID, e.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Subject, "subject", "", "only entries for this subject")
	cmd.Flags().StringVar(&outcome, "outcome", "", "allowed or denied")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this")
	cmd.Flags().IntVar(&filter.Limit, "limit", 100, "newest entries to show (0 for all)")
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject string
		grants  []string
		paths   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed access token",
		Long: `Mints an HS256 token signed with auth.secret.

  --grant demo=write      write access to repository demo
  --grant '*=admin'       admin on every repository
  --path demo=docs/**     restrict demo to paths matching docs/**`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Auth.Secret == "" {
				return fmt.Errorf("token: auth.secret is not configured")
			}
			claims, err := buildClaims(subject, grants, paths)
			if err != nil {
				return err
			}
			now := time.Now()
			if ttl > 0 {
				exp := now.Add(ttl)
				claims.ExpiresAt = &exp
			}
			token, err := auth.Sign([]byte(a.cfg.Auth.Secret), *claims, now)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringArrayVar(&grants, "grant", nil, "repo=permission (read, write or admin); repo * means every repository")
	cmd.Flags().StringArrayVar(&paths, "path", nil, "repo=pattern path restriction")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "lifetime (0 for none)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func buildClaims(subject string, grants, paths []string) (*auth.Claims, error) {
	claims := &auth.Claims{Subject: subject}
	for _, g := range grants {
		repo, perm, ok := strings.Cut(g, "=")
		if !ok {
			return nil, fmt.Errorf("grant %q: want repo=permission", g)
		}
		p, err := auth.ParsePermission("repos:" + perm)
		if err != nil {
			return nil, fmt.Errorf("grant %q: %w", g, err)
		}
		grant := auth.Grant{Permission: p}
		if repo != "*" {
			id, err := ident.ParseRepoID(repo)
			if err != nil {
				return nil, fmt.Errorf("grant %q: %w", g, err)
			}
			grant.RepoID = &id
		}
		claims.Grants = append(claims.Grants, grant)
	}

	byRepo := make(map[ident.RepoID]int)
	for _, pth := range paths {
		repo, pattern, ok := strings.Cut(pth, "=")
		if !ok || pattern == "" {
			return nil, fmt.Errorf("path %q: want repo=pattern", pth)
		}
		id, err := ident.ParseRepoID(repo)
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", pth, err)
		}
		i, seen := byRepo[id]
		if !seen {
			i = len(claims.PathGrants)
			byRepo[id] = i
			claims.PathGrants = append(claims.PathGrants, auth.PathGrant{RepoID: id})
		}
		claims.PathGrants[i].AllowedPaths = append(claims.PathGrants[i].AllowedPaths, pattern)
	}
	return claims, nil
}
