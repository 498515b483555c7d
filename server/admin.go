package server

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/appportal/hubauth/access"
	"github.com/appportal/hubauth/security"
	"github.com/appportal/hubauth/storage"
)

// ClientRegistration describes a new application to register.
type ClientRegistration struct {
	Name         string
	Description  string
	RedirectURIs []string
	Scopes       []string
	IsPublic     bool
}

// RegisterClient registers a new application and returns the stored record
// together with the plaintext client secret. The secret is shown exactly
// once; only its bcrypt hash is persisted.
func (s *Server) RegisterClient(ctx context.Context, reg *ClientRegistration, clientIP string) (*storage.Client, string, error) {
	if reg == nil || reg.Name == "" {
		return nil, "", fmt.Errorf("client name is required")
	}
	if len(reg.RedirectURIs) == 0 {
		return nil, "", fmt.Errorf("at least one redirect URI is required")
	}
	for _, uri := range reg.RedirectURIs {
		if err := validateRedirectURIFormat(uri); err != nil {
			return nil, "", fmt.Errorf("invalid redirect URI %q: %w", uri, err)
		}
	}

	secret := security.NewClientSecret()
	secretHash, err := security.HashClientSecret(secret)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash client secret: %w", err)
	}

	now := time.Now()
	client := &storage.Client{
		ID:           uuid.NewString(),
		ClientID:     security.NewClientID(),
		SecretHash:   secretHash,
		Name:         reg.Name,
		Description:  reg.Description,
		RedirectURIs: append([]string(nil), reg.RedirectURIs...),
		Scopes:       append([]string(nil), reg.Scopes...),
		IsPublic:     reg.IsPublic,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.SaveClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("failed to save client: %w", err)
	}

	s.Logger.Info("Registered client",
		"client_id", client.ClientID,
		"name", client.Name,
		"public", client.IsPublic)
	if s.Auditor != nil {
		s.Auditor.LogClientRegistered(client.ClientID, clientIP)
	}

	return client, secret, nil
}

// RotateClientSecret replaces a client's secret and returns the new plaintext
// exactly once. Tokens already issued to the client remain valid; only future
// client authentication is affected.
func (s *Server) RotateClientSecret(ctx context.Context, clientID string) (string, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return "", err
	}

	secret := security.NewClientSecret()
	secretHash, err := security.HashClientSecret(secret)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}

	client.SecretHash = secretHash
	client.UpdatedAt = time.Now()
	if err := s.store.SaveClient(ctx, client); err != nil {
		return "", fmt.Errorf("failed to save client: %w", err)
	}

	s.Logger.Info("Rotated client secret", "client_id", clientID)
	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventClientSecretRotated,
			ClientID: clientID,
		})
	}

	return secret, nil
}

// SetClientActive activates or deactivates a client. A deactivated client
// fails authentication uniformly and its tokens stop resolving; reactivation
// restores both without re-registration.
func (s *Server) SetClientActive(ctx context.Context, clientID string, active bool) error {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	if client.Active == active {
		return nil
	}

	client.Active = active
	client.UpdatedAt = time.Now()
	if err := s.store.SaveClient(ctx, client); err != nil {
		return err
	}

	s.Logger.Info("Changed client active flag", "client_id", clientID, "active", active)
	return nil
}

// CreateGroup creates a hub-local group.
func (s *Server) CreateGroup(ctx context.Context, name, description string) (*storage.Group, error) {
	if name == "" {
		return nil, fmt.Errorf("group name is required")
	}

	now := time.Now()
	group := &storage.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.SaveGroup(ctx, group); err != nil {
		return nil, err
	}

	s.Logger.Info("Created group", "group_id", group.ID, "name", name)
	return group, nil
}

// DeleteGroup removes a group. The store cascades memberships and any grants
// referencing the group, so access through it ends for future authorizations.
func (s *Server) DeleteGroup(ctx context.Context, groupID string) error {
	if err := s.store.DeleteGroup(ctx, groupID); err != nil {
		return err
	}
	s.Logger.Info("Deleted group", "group_id", groupID)
	return nil
}

// AddGroupMember adds a user to a group. Idempotent.
func (s *Server) AddGroupMember(ctx context.Context, groupID, userID string) error {
	return s.store.AddGroupMember(ctx, groupID, userID)
}

// RemoveGroupMember removes a user from a group. Idempotent.
func (s *Server) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	return s.store.RemoveGroupMember(ctx, groupID, userID)
}

// GrantAccess grants a subject (user or group) access to a client. The
// (client, subject) pair is unique; duplicates return
// storage.ErrDuplicateGrant.
func (s *Server) GrantAccess(ctx context.Context, clientID string, subject storage.GrantSubject, grantedBy string) (*storage.Grant, error) {
	if !subject.Valid() {
		return nil, fmt.Errorf("grant subject must name exactly one user or group")
	}
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}

	// The subject must exist; dangling grants would silently never match.
	switch subject.Kind {
	case storage.SubjectKindUser:
		if _, err := s.store.GetUser(ctx, subject.ID); err != nil {
			return nil, err
		}
	case storage.SubjectKindGroup:
		if _, err := s.store.GetGroup(ctx, subject.ID); err != nil {
			return nil, err
		}
	}

	grant := &storage.Grant{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Subject:   subject,
		GrantedBy: grantedBy,
		CreatedAt: time.Now(),
	}
	if err := s.store.SaveGrant(ctx, grant); err != nil {
		return nil, err
	}

	s.Logger.Info("Granted access",
		"client_id", clientID,
		"subject_kind", subject.Kind,
		"subject_id", subject.ID)
	if s.Auditor != nil {
		s.Auditor.LogGrantChanged(clientID, string(subject.Kind), "granted")
	}

	return grant, nil
}

// RevokeAccess removes the grant tying a subject to a client. When
// Config.RevokeTokensOnGrantRemoval is set, the live token pairs of every
// user the grant covered are revoked as well; otherwise existing tokens run
// out their natural lifetime and only future authorizations are affected.
func (s *Server) RevokeAccess(ctx context.Context, clientID string, subject storage.GrantSubject) error {
	grants, err := s.store.ListGrantsForClient(ctx, clientID)
	if err != nil {
		return err
	}

	var match *storage.Grant
	for _, g := range grants {
		if g.Subject == subject {
			match = g
			break
		}
	}
	if match == nil {
		return storage.ErrGrantNotFound
	}

	if err := s.store.DeleteGrant(ctx, match.ID); err != nil {
		return err
	}

	s.Logger.Info("Revoked access",
		"client_id", clientID,
		"subject_kind", subject.Kind,
		"subject_id", subject.ID)
	if s.Auditor != nil {
		s.Auditor.LogGrantChanged(clientID, string(subject.Kind), "revoked")
	}

	if s.Config.RevokeTokensOnGrantRemoval {
		s.revokeTokensForSubject(ctx, clientID, subject)
	}

	return nil
}

// revokeTokensForSubject revokes the token pairs of every user a removed
// grant covered. Failures are logged and skipped; removal of the grant
// already happened and is the authoritative change.
func (s *Server) revokeTokensForSubject(ctx context.Context, clientID string, subject storage.GrantSubject) {
	var userIDs []string
	switch subject.Kind {
	case storage.SubjectKindUser:
		userIDs = []string{subject.ID}
	case storage.SubjectKindGroup:
		members, err := s.store.GetGroupMembers(ctx, subject.ID)
		if err != nil {
			s.Logger.Warn("Failed to expand group for token revocation",
				"group_id", subject.ID, "error", err)
			return
		}
		userIDs = members
	}

	for _, userID := range userIDs {
		if _, err := s.RevokeAllForUserClient(ctx, userID, clientID); err != nil {
			s.Logger.Warn("Failed to revoke tokens after grant removal",
				"user_id", userID, "client_id", clientID, "error", err)
		}
	}
}

// AuthorizedUsers returns the IDs of the users currently authorized for a
// client: everyone for a public client, otherwise the union of direct grants
// and expanded group grants.
func (s *Server) AuthorizedUsers(ctx context.Context, clientID string) ([]string, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if client.IsPublic {
		users, err := s.store.ListUsers(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(users))
		for _, u := range users {
			if u.Active {
				ids = append(ids, u.ID)
			}
		}
		return ids, nil
	}

	grants, err := s.store.ListGrantsForClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	return access.AuthorizedUserIDs(clientID, grants, func(groupID string) []string {
		members, err := s.store.GetGroupMembers(ctx, groupID)
		if err != nil {
			s.Logger.Warn("Failed to expand group members", "group_id", groupID, "error", err)
			return nil
		}
		return members
	}), nil
}

// validateRedirectURIFormat checks a redirect URI at registration time.
// Loopback HTTP is allowed for local development; anything else must be
// HTTPS or a custom application scheme. Fragments are forbidden by RFC 6749.
func validateRedirectURIFormat(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return err
	}
	if !u.IsAbs() {
		return fmt.Errorf("must be an absolute URI")
	}
	if u.Fragment != "" {
		return fmt.Errorf("must not contain a fragment")
	}
	if u.Scheme == "http" {
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("http is only allowed for loopback addresses")
		}
	}
	if strings.ContainsAny(uri, " \t\r\n") {
		return fmt.Errorf("must not contain whitespace")
	}
	return nil
}
