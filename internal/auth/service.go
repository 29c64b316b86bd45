// internal/auth/service.go
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"strata/internal/errors"
	"strata/internal/ident"
	"strata/internal/logging"
	"strata/internal/safepath"
)

const anonymous = "anonymous"

type Options struct {
	Verifier TokenVerifier
	Audit    AuditLog
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service gates every externally reachable operation. Each RequirePermission and
// Authenticate call records exactly one audit entry before returning; CheckPathAccess
// records denials. If the audit entry cannot be written the call fails closed.
type Service struct {
	verifier TokenVerifier
	audit    AuditLog
	now      func() time.Time
	log      *zap.Logger
}

func NewService(opts Options) *Service {
	if opts.Audit == nil {
		opts.Audit = NewMemoryAudit()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		verifier: opts.Verifier,
		audit:    opts.Audit,
		now:      opts.Clock,
		log:      logging.OrNop(opts.Logger),
	}
}

// Audit exposes the underlying log for read-only queries.
func (s *Service) Audit() AuditLog { return s.audit }

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(headers http.Header) (string, bool) {
	h := strings.TrimSpace(headers.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (s *Service) verify(headers http.Header) (*Claims, string) {
	token, ok := BearerToken(headers)
	if !ok {
		return nil, "missing bearer token"
	}
	if s.verifier == nil {
		return nil, "no token verifier configured"
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return nil, "invalid token"
	}
	if !claims.IsValidAt(s.now()) {
		return nil, "token expired"
	}
	return claims, ""
}

func (s *Service) Authenticate(headers http.Header, action string) (*Claims, error) {
	claims, reason := s.verify(headers)
	if claims == nil {
		if err := s.record(anonymous, action, "", Denied, reason); err != nil {
			return nil, err
		}
		return nil, errors.AuthRequired(reason)
	}
	if err := s.record(claims.Subject, action, "", Allowed, ""); err != nil {
		return nil, err
	}
	return claims, nil
}

// RequirePermission authenticates the caller and checks perm on repoID, or global
// scope when repoID is nil.
func (s *Service) RequirePermission(headers http.Header, repoID *ident.RepoID, perm Permission, action string) (*Claims, error) {
	repo := ""
	if repoID != nil {
		repo = repoID.String()
	}

	claims, reason := s.verify(headers)
	if claims == nil {
		if err := s.record(anonymous, action, repo, Denied, reason); err != nil {
			return nil, err
		}
		return nil, errors.AuthRequired(reason)
	}

	if !claims.HasPermission(repoID, perm) {
		scope := "global scope"
		if repoID != nil {
			scope = repo
		}
		reason := fmt.Sprintf("missing %s on %s", perm, scope)
		if err := s.record(claims.Subject, action, repo, Denied, reason); err != nil {
			return nil, err
		}
		return nil, errors.PermissionDenied(reason)
	}

	if err := s.record(claims.Subject, action, repo, Allowed, ""); err != nil {
		return nil, err
	}
	return claims, nil
}

// CheckPathAccess succeeds when claims carry no path grant for repoID or one covers
// path. A denial is audited; the path appears only in the reason.
func (s *Service) CheckPathAccess(claims *Claims, repoID ident.RepoID, path safepath.SafePath, action string) error {
	if claims == nil {
		reason := "no verified claims"
		if err := s.record(anonymous, action, repoID.String(), Denied, reason); err != nil {
			return err
		}
		return errors.AuthRequired(reason)
	}
	if claims.PathIsAccessible(repoID, path) {
		return nil
	}
	reason := fmt.Sprintf("path %q outside granted paths", path)
	if err := s.record(claims.Subject, action, repoID.String(), Denied, reason); err != nil {
		return err
	}
	return errors.PermissionDenied(fmt.Sprintf("path not accessible in %s", repoID))
}

func (s *Service) record(subject, action, repo string, outcome Outcome, reason string) error {
	e := Entry{
		ID:      uuid.NewString(),
		Time:    s.now().UTC(),
		Subject: subject,
		Action:  action,
		RepoID:  repo,
		Outcome: outcome,
		Reason:  reason,
	}
	if err := s.audit.Record(e); err != nil {
		s.log.Error("audit record failed", zap.String("action", action), zap.Error(err))
		return errors.Internal("recording audit entry", err)
	}
	if outcome == Denied {
		s.log.Info("access denied",
			zap.String("subject", subject),
			zap.String("action", action),
			zap.String("repo", repo),
			zap.String("reason", reason))
	}
	return nil
}
