package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/repo"
)

const auditAdminBootstrap = "admin_role_bootstrapped"

// RoleStore is the persistence behind roles and profiles.
type RoleStore interface {
	GetRole(ctx context.Context, userID string) (string, error)
	SetRole(ctx context.Context, userID, role string, phone *string) error
	UpsertProfile(ctx context.Context, p repo.Profile) (*repo.Profile, error)
	InsertAuditLog(ctx context.Context, entry repo.AuditEntry) error
}

// RoleService answers "is this caller an admin". user_roles is authoritative;
// the configured allowlists only seed it the first time an identity is seen.
type RoleService struct {
	store  RoleStore
	emails map[string]struct{}
	phones map[string]struct{}
	logger *slog.Logger
}

func NewRoleService(store RoleStore, adminEmails, adminPhones []string, logger *slog.Logger) *RoleService {
	rs := &RoleService{
		store:  store,
		emails: make(map[string]struct{}, len(adminEmails)),
		phones: make(map[string]struct{}, len(adminPhones)),
		logger: logger.With("component", "roles"),
	}
	for _, e := range adminEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			rs.emails[e] = struct{}{}
		}
	}
	for _, p := range adminPhones {
		if p = digitsOnly(p); p != "" {
			rs.phones[p] = struct{}{}
		}
	}
	return rs
}

// IsAdmin resolves the caller's role, bootstrapping allowlisted identities once.
func (s *RoleService) IsAdmin(ctx context.Context, id UserIdentity) (bool, error) {
	if id.UserID == "" {
		return false, nil
	}
	role, err := s.store.GetRole(ctx, id.UserID)
	if err == nil {
		return role == repo.RoleAdmin, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return false, fmt.Errorf("resolve role: %w", err)
	}

	source, ok := s.allowlisted(id)
	if !ok {
		return false, nil
	}
	var phone *string
	if id.Phone != "" {
		phone = &id.Phone
	}
	if err := s.store.SetRole(ctx, id.UserID, repo.RoleAdmin, phone); err != nil {
		return false, fmt.Errorf("bootstrap admin role: %w", err)
	}
	if err := s.store.InsertAuditLog(ctx, repo.AuditEntry{
		Action:      auditAdminBootstrap,
		TargetTable: "user_roles",
		TargetID:    id.UserID,
		NewValues:   map[string]any{"role": repo.RoleAdmin, "source": source},
	}); err != nil {
		s.logger.Warn("failed to audit admin bootstrap", "error", err, "user_id", id.UserID)
	}
	s.logger.Info("admin role bootstrapped from allowlist", "user_id", id.UserID, "source", source)
	return true, nil
}

// EnsureProfile upserts the caller's profile and resolves their role.
func (s *RoleService) EnsureProfile(ctx context.Context, id UserIdentity, fullName string) (*repo.Profile, bool, error) {
	if id.UserID == "" {
		return nil, false, errors.New("ensure profile: empty user id")
	}
	p := repo.Profile{ID: id.UserID, Username: DefaultUsername(id.UserID)}
	if name := strings.TrimSpace(fullName); name != "" {
		p.FullName = &name
	} else if id.DisplayName != "" {
		p.FullName = &id.DisplayName
	}
	if id.Email != "" {
		p.Email = &id.Email
	}
	if id.Phone != "" {
		p.PhoneNumber = &id.Phone
	}
	profile, err := s.store.UpsertProfile(ctx, p)
	if err != nil {
		return nil, false, fmt.Errorf("ensure profile: %w", err)
	}
	isAdmin, err := s.IsAdmin(ctx, id)
	if err != nil {
		return profile, false, err
	}
	return profile, isAdmin, nil
}

// allowlisted matches the identity against the bootstrap lists. An email only
// counts once its issuer has verified it.
func (s *RoleService) allowlisted(id UserIdentity) (string, bool) {
	if id.Email != "" && id.EmailVerified {
		if _, ok := s.emails[strings.ToLower(id.Email)]; ok {
			return "email", true
		}
	}
	if p := digitsOnly(id.Phone); p != "" {
		if _, ok := s.phones[p]; ok {
			return "phone", true
		}
	}
	return "", false
}

// DefaultUsername is user_ followed by the first 8 characters of the id.
func DefaultUsername(userID string) string {
	if len(userID) > 8 {
		userID = userID[:8]
	}
	return "user_" + userID
}

// PhoneUsername is user_ followed by the last 8 digits of the phone number.
func PhoneUsername(phone string) string {
	d := digitsOnly(phone)
	if len(d) > 8 {
		d = d[len(d)-8:]
	}
	return "user_" + d
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
