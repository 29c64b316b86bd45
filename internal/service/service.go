// internal/service/service.go
package service

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"strata/internal/auth"
	"strata/internal/ident"
	"strata/internal/logging"
	"strata/internal/repo"
)

// Service is the guarded surface a transport maps requests onto. Every method runs an
// authorization check before touching a repository.
type Service struct {
	registry *repo.Registry
	auth     *auth.Service
	now      func() time.Time
	log      *zap.Logger
}

type Options struct {
	Registry *repo.Registry
	Auth     *auth.Service
	Clock    func() time.Time
	Logger   *zap.Logger
}

func New(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		registry: opts.Registry,
		auth:     opts.Auth,
		now:      opts.Clock,
		log:      logging.OrNop(opts.Logger),
	}
}

// open authorizes perm on id and loads the repository.
func (s *Service) open(h http.Header, id ident.RepoID, perm auth.Permission, action string) (*auth.Claims, *repo.Repository, error) {
	claims, err := s.auth.RequirePermission(h, &id, perm, action)
	if err != nil {
		return nil, nil, err
	}
	r, err := s.registry.Get(id)
	if err != nil {
		return nil, nil, err
	}
	return claims, r, nil
}

func (s *Service) CreateRepo(h http.Header, id ident.RepoID, name, description string) (*repo.Metadata, error) {
	claims, err := s.auth.RequirePermission(h, nil, auth.PermAdmin, "repo.create")
	if err != nil {
		return nil, err
	}
	r, err := s.registry.Create(id, name, description, s.now())
	if err != nil {
		return nil, err
	}
	s.log.Info("repo created", zap.String("repo", id.String()), zap.String("subject", claims.Subject))
	meta := r.Metadata
	return &meta, nil
}

func (s *Service) GetRepo(h http.Header, id ident.RepoID) (*repo.Metadata, error) {
	_, r, err := s.open(h, id, auth.PermRead, "repo.get")
	if err != nil {
		return nil, err
	}
	meta := r.Metadata
	return &meta, nil
}

// ListRepos returns the repositories the caller can read, sorted by id.
func (s *Service) ListRepos(h http.Header) ([]repo.Metadata, error) {
	claims, err := s.auth.Authenticate(h, "repo.list")
	if err != nil {
		return nil, err
	}
	ids, err := s.registry.List()
	if err != nil {
		return nil, err
	}

	out := make([]repo.Metadata, 0, len(ids))
	for _, id := range ids {
		if !claims.HasPermission(&id, auth.PermRead) {
			continue
		}
		r, err := s.registry.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, r.Metadata)
	}
	return out, nil
}

func (s *Service) UpdateRepo(h http.Header, id ident.RepoID, name, description string) (*repo.Metadata, error) {
	if _, err := s.auth.RequirePermission(h, &id, auth.PermAdmin, "repo.update"); err != nil {
		return nil, err
	}
	r, err := s.registry.UpdateMetadata(id, name, description, s.now())
	if err != nil {
		return nil, err
	}
	meta := r.Metadata
	return &meta, nil
}

func (s *Service) DeleteRepo(h http.Header, id ident.RepoID) error {
	claims, err := s.auth.RequirePermission(h, &id, auth.PermAdmin, "repo.delete")
	if err != nil {
		return err
	}
	if err := s.registry.Delete(id); err != nil {
		return err
	}
	s.log.Info("repo deleted", zap.String("repo", id.String()), zap.String("subject", claims.Subject))
	return nil
}
