// cmd/strata/history.go
package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"strata/internal/checkout"
	"strata/internal/diff"
	"strata/internal/errors"
	"strata/internal/history"
	"strata/internal/merge"
	"strata/internal/service"
)

func newCommitCmd(a *app) *cobra.Command {
	var (
		branch  string
		dir     string
		message string
		author  string
		ignore  []string
	)
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit a directory as the next state of a branch",
		Long: `Scans --dir and records its files as a new commit on --branch. Files that are
on the branch but missing from the directory are deleted in the new commit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.repoID()
			if err != nil {
				return err
			}
			h, err := a.headers()
			if err != nil {
				return err
			}
			res, err := a.svc.CommitDir(h, service.CommitDirRequest{
				Repo:    id,
				Branch:  branch,
				Dir:     dir,
				Ignore:  ignore,
				Author:  author,
				Message: message,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", color.YellowString(res.Commit.Short()), firstLine(message))
			return nil
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch to commit to (default: HEAD's branch)")
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "directory to commit")
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&author, "author", "", "author (default: token subject)")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "directory names or globs to skip")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newLogCmd(a *app) *cobra.Command {
	var opts history.Options
	cmd := &cobra.Command{
		Use:   "log [revision]",
		Short: "Show commit history, newest first",
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
			rev := "HEAD"
			if len(args) == 1 {
				rev = args[0]
			}
			page, err := a.svc.Log(h, id, rev, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			yellow := color.New(color.FgYellow).SprintFunc()
			for _, e := range page.Commits {
				fmt.Fprintf(out, "%s %s\n", yellow("commit"), yellow(e.ID.String()))
				if e.Commit.IsMerge() {
					parents := make([]string, len(e.Commit.Parents))
					for i, p := range e.Commit.Parents {
						parents[i] = p.Short()
					}
					fmt.Fprintf(out, "Merge:  %s\n", strings.Join(parents, " "))
				}
				fmt.Fprintf(out, "Author: %s\n", e.Commit.Author)
				fmt.Fprintf(out, "Date:   %s\n\n", e.Commit.Timestamp.Format(time.RFC1123Z))
				for _, line := range strings.Split(e.Commit.Message, "\n") {
					fmt.Fprintf(out, "    %s\n", line)
				}
				fmt.Fprintln(out)
			}
			if page.HasMore {
				fmt.Fprintf(out, "(more: --offset %d)\n", page.NextOffset)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", history.DefaultLimit, "maximum commits to show")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "commits to skip")
	cmd.Flags().BoolVar(&opts.FirstParent, "first-parent", false, "follow only the first parent of merges")
	return cmd
}

func newDiffCmd(a *app) *cobra.Command {
	var stat bool
	cmd := &cobra.Command{
		Use:   "diff <from> <to>",
		Short: "Show changes between two revisions",
		Long:  `Compares two revisions. Use "" as <from> to compare against the empty tree.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.repoID()
			if err != nil {
				return err
			}
			h, err := a.headers()
			if err != nil {
				return err
			}
			d, err := a.svc.Diff(h, id, args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(d.Entries) == 0 {
				fmt.Fprintln(out, "No differences")
				return nil
			}
			if stat {
				printDiffStat(out, d)
				return nil
			}

			engine := diff.NewLineEngine(3)
			for _, e := range d.Entries {
				fmt.Fprintf(out, "\ndiff --strata a/%s b/%s (%s)\n", e.Path, e.Path, e.Kind)
				if e.FromClass == diff.ClassBinary || e.ToClass == diff.ClassBinary {
					fmt.Fprintln(out, "Binary files differ")
					continue
				}
				var before, after []byte
				if e.Kind != diff.Added {
					if before, err = a.svc.ReadBlob(h, id, args[0], e.Path.String()); err != nil {
						return err
					}
				}
				if e.Kind != diff.Deleted {
					if after, err = a.svc.ReadBlob(h, id, args[1], e.Path.String()); err != nil {
						return err
					}
				}
				printColoredDiff(out, engine.Diff(before, after).Format())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stat, "stat", false, "show only per-file line counts")
	return cmd
}

func printDiffStat(out io.Writer, d *diff.Diff) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	var adds, dels int
	for _, e := range d.Entries {
		if e.Stats == nil {
			fmt.Fprintf(out, " %s | %s (binary)\n", e.Path, e.Kind)
			continue
		}
		adds += e.Stats.Additions
		dels += e.Stats.Deletions
		fmt.Fprintf(out, " %s | %s %s\n", e.Path,
			green(fmt.Sprintf("+%d", e.Stats.Additions)),
			red(fmt.Sprintf("-%d", e.Stats.Deletions)))
	}
	fmt.Fprintf(out, " %d file(s) changed, %d insertion(s), %d deletion(s)\n", len(d.Entries), adds, dels)
}

func printColoredDiff(out io.Writer, text string) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)

	for _, line := range strings.Split(text, "\n") {
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "@@"):
			header.Fprintln(out, line)
		case strings.HasPrefix(line, "+"):
			added.Fprintln(out, line)
		case strings.HasPrefix(line, "-"):
			removed.Fprintln(out, line)
		default:
			fmt.Fprintln(out, line)
		}
	}
}

func newCheckoutCmd(a *app) *cobra.Command {
	var name, policy string
	cmd := &cobra.Command{
		Use:   "checkout <revision>",
		Short: "Materialize a revision into a named working copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.repoID()
			if err != nil {
				return err
			}
			p, err := checkout.ParsePolicy(policy)
			if err != nil {
				return err
			}
			h, err := a.headers()
			if err != nil {
				return err
			}
			res, dir, err := a.svc.Checkout(h, service.CheckoutRequest{Repo: id, Revision: args[0], Name: name, Policy: p})
			if err != nil {
				if errors.Is(err, errors.KindConflict) {
					printPaths(cmd.OutOrStdout(), "Would overwrite:", errors.DetailsOf(err))
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checked out %s into %s (%d written, %d deleted)\n",
				args[0], dir, res.FilesWritten, res.FilesDeleted)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "default", "working copy name")
	cmd.Flags().StringVarP(&policy, "policy", "p", string(checkout.PolicySafe), "overwrite, safe or clean")
	return cmd
}

func newMergeCmd(a *app) *cobra.Command {
	var into, message string
	cmd := &cobra.Command{
		Use:   "merge <revision>",
		Short: "Merge a revision into a branch",
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
			res, err := a.svc.Merge(h, service.MergeRequest{Repo: id, Into: into, From: args[0], Message: message})
			out := cmd.OutOrStdout()
			if errors.Is(err, errors.KindMergeConflict) && res != nil {
				printConflicts(out, res.Conflicts)
				return err
			}
			if err != nil {
				return err
			}
			if res.UpToDate {
				fmt.Fprintln(out, "Already up to date")
				return nil
			}
			fmt.Fprintf(out, "Merged %s: %s\n", args[0], color.YellowString(res.Commit.Short()))
			return nil
		},
	}
	cmd.Flags().StringVar(&into, "into", "", "branch to merge into (default: HEAD's branch)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "merge commit message")
	return cmd
}

func printConflicts(out io.Writer, conflicts []merge.Conflict) {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintln(out, "Merge conflicts:")
	for _, c := range conflicts {
		fmt.Fprintf(out, "\t%s %s\n", red(c.Kind), c.Path)
	}
}

func printPaths(out io.Writer, title string, details any) {
	paths, ok := details.([]string)
	if !ok {
		return
	}
	fmt.Fprintln(out, title)
	for _, p := range paths {
		fmt.Fprintf(out, "\t%s\n", color.RedString(p))
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
