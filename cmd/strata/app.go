// cmd/strata/app.go
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"strata/internal/auth"
	"strata/internal/config"
	"strata/internal/ident"
	"strata/internal/logging"
	"strata/internal/repo"
	"strata/internal/service"
	"strata/internal/storage"
)

// app carries the state every command shares. It is built in the root command's
// PersistentPreRunE and torn down in PersistentPostRunE.
type app struct {
	configPath string
	repoFlag   string
	tokenFlag  string

	cfg      *config.Config
	log      *zap.Logger
	registry *repo.Registry
	auth     *auth.Service
	svc      *service.Service
	secret   []byte
	db       *badger.DB
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	l, err := logging.ForFormat(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	l.Logger = l.With(zap.String("request_id", uuid.NewString()), zap.String("command", cmd.Name()))
	a.log = l.Logger

	a.registry, err = repo.NewRegistry(cfg.Root, repo.Options{
		DefaultBranch:   cfg.DefaultBranch,
		ObjectCacheSize: cfg.ObjectCacheSize,
		Logger:          l.Component("repo"),
	})
	if err != nil {
		return fmt.Errorf("opening repositories: %w", err)
	}

	var audit auth.AuditLog = auth.NewMemoryAudit()
	if cfg.Audit.Path != "" {
		a.db, err = storage.OpenDB(cfg.Audit.Path)
		if err != nil {
			return err
		}
		audit = auth.NewBadgerAudit(a.db)
	}

	a.secret = []byte(cfg.Auth.Secret)
	if len(a.secret) == 0 {
		// Without a configured secret only locally minted tokens can verify.
		a.secret = []byte(uuid.NewString())
	}
	a.auth = auth.NewService(auth.Options{
		Verifier: auth.NewHMACVerifier(a.secret),
		Audit:    audit,
		Logger:   l.Component("auth"),
	})
	a.svc = service.New(service.Options{
		Registry: a.registry,
		Auth:     a.auth,
		Logger:   a.log,
	})
	return nil
}

func (a *app) teardown() error {
	if a.log != nil {
		_ = a.log.Sync()
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// headers returns the caller's credentials: --token, then STRATA_TOKEN, then a
// short-lived admin token for the local operator.
func (a *app) headers() (http.Header, error) {
	token := a.tokenFlag
	if token == "" {
		token = os.Getenv("STRATA_TOKEN")
	}
	if token == "" {
		exp := time.Now().Add(time.Minute)
		var err error
		token, err = auth.Sign(a.secret, auth.Claims{
			Subject:   localSubject(),
			Grants:    []auth.Grant{{Permission: auth.PermAdmin}},
			ExpiresAt: &exp,
		}, time.Now())
		if err != nil {
			return nil, fmt.Errorf("minting local token: %w", err)
		}
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

func (a *app) repoID() (ident.RepoID, error) {
	if a.repoFlag == "" {
		return "", fmt.Errorf("--repo is required")
	}
	return ident.ParseRepoID(a.repoFlag)
}

func localSubject() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "strata",
		Short: "Strata is a self-hosted versioned storage engine",
		Long: `Strata stores repositories of content-addressed objects with branches, tags,
three-way merges and per-path access control.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (JSON, YAML or TOML)")
	root.PersistentFlags().StringVarP(&a.repoFlag, "repo", "r", "", "repository id")
	root.PersistentFlags().StringVar(&a.tokenFlag, "token", "", "bearer token (default $STRATA_TOKEN or a local admin token)")

	root.AddCommand(
		newInitCmd(a),
		newRepoCmd(a),
		newCommitCmd(a),
		newLogCmd(a),
		newDiffCmd(a),
		newCheckoutCmd(a),
		newMergeCmd(a),
		newRefCmd(a, "branch", ident.HeadsPrefix),
		newRefCmd(a, "tag", ident.TagsPrefix),
		newArchiveCmd(a),
		newFsckCmd(a),
		newWatchCmd(a),
		newAuditCmd(a),
		newTokenCmd(a),
	)
	return root
}
