// Package provision is the boundary to the upstream identity provider.
//
// The hub never speaks the upstream protocol itself; the embedding
// application authenticates the user upstream and hands this package a
// verified Assertion. Provisioning upserts the matching user record so the
// flows only ever deal in hub user IDs.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/appportal/hubauth/storage"
)

// ErrUserInactive indicates the provisioned user exists but has been
// deactivated by an administrator.
var ErrUserInactive = errors.New("user is inactive")

// UpstreamError reports a malformed or incomplete assertion from the
// upstream identity provider.
type UpstreamError struct {
	Field  string // the assertion field at fault
	Reason string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream assertion invalid: %s %s", e.Field, e.Reason)
}

// Assertion is a verified identity statement from the upstream provider.
// ExternalSubjectID, Email, and DisplayName are required; the rest is
// profile enrichment.
type Assertion struct {
	ExternalSubjectID string
	Email             string
	DisplayName       string
	Department        string
	JobTitle          string
	GroupNames        []string // upstream directory groups
}

// Validate checks the required fields and returns an *UpstreamError naming
// the first missing one.
func (a *Assertion) Validate() error {
	switch {
	case a == nil:
		return &UpstreamError{Field: "assertion", Reason: "is missing"}
	case a.ExternalSubjectID == "":
		return &UpstreamError{Field: "subject", Reason: "is missing"}
	case a.Email == "":
		return &UpstreamError{Field: "email", Reason: "is missing"}
	case a.DisplayName == "":
		return &UpstreamError{Field: "display_name", Reason: "is missing"}
	}
	return nil
}

// Provisioner upserts users from upstream assertions.
type Provisioner struct {
	store  storage.UserStore
	logger *slog.Logger

	// now is swappable for tests
	now func() time.Time
}

// NewProvisioner creates a provisioner backed by the given user store.
// A nil logger falls back to slog.Default().
func NewProvisioner(store storage.UserStore, logger *slog.Logger) (*Provisioner, error) {
	if store == nil {
		return nil, errors.New("user store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		store:  store,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Provision resolves an assertion to a hub user, creating the record on
// first sight and refreshing the profile fields, upstream groups, and
// last-login timestamp on every subsequent sign-in.
//
// Returns the user and whether it was newly created. An inactive user is
// returned alongside ErrUserInactive so callers can audit the attempt.
func (p *Provisioner) Provision(ctx context.Context, assertion *Assertion) (*storage.User, bool, error) {
	if err := assertion.Validate(); err != nil {
		return nil, false, err
	}

	now := p.now()

	user, err := p.store.GetUserByExternalSubject(ctx, assertion.ExternalSubjectID)
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		user = &storage.User{
			ID:                uuid.NewString(),
			ExternalSubjectID: assertion.ExternalSubjectID,
			Email:             assertion.Email,
			DisplayName:       assertion.DisplayName,
			Department:        assertion.Department,
			JobTitle:          assertion.JobTitle,
			UpstreamGroups:    assertion.GroupNames,
			Active:            true,
			LastLoginAt:       now,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := p.store.SaveUser(ctx, user); err != nil {
			return nil, false, fmt.Errorf("failed to create user: %w", err)
		}
		p.logger.Info("Provisioned new user", "user_id", user.ID)
		return user, true, nil

	case err != nil:
		return nil, false, fmt.Errorf("failed to look up user: %w", err)
	}

	// Refresh the profile from the assertion; the upstream directory is the
	// source of truth for these fields.
	user.Email = assertion.Email
	user.DisplayName = assertion.DisplayName
	user.Department = assertion.Department
	user.JobTitle = assertion.JobTitle
	user.UpstreamGroups = assertion.GroupNames
	user.LastLoginAt = now
	user.UpdatedAt = now

	if err := p.store.SaveUser(ctx, user); err != nil {
		return nil, false, fmt.Errorf("failed to update user: %w", err)
	}

	if !user.Active {
		return user, false, ErrUserInactive
	}

	p.logger.Debug("Refreshed user from assertion", "user_id", user.ID)
	return user, false, nil
}
