package provision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/appportal/hubauth/storage/memory"
)

func newTestProvisioner(t *testing.T) (*Provisioner, *memory.Store) {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)

	p, err := NewProvisioner(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewProvisioner() error = %v", err)
	}
	return p, store
}

func validAssertion() *Assertion {
	return &Assertion{
		ExternalSubjectID: "upstream|abc123",
		Email:             "jamie@example.com",
		DisplayName:       "Jamie Tester",
		Department:        "Engineering",
		JobTitle:          "Engineer",
		GroupNames:        []string{"Engineering", "Everyone"},
	}
}

func TestNewProvisioner_RequiresStore(t *testing.T) {
	if _, err := NewProvisioner(nil, nil); err == nil {
		t.Error("NewProvisioner(nil) should fail")
	}
}

func TestAssertionValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Assertion)
		wantField string
	}{
		{"missing subject", func(a *Assertion) { a.ExternalSubjectID = "" }, "subject"},
		{"missing email", func(a *Assertion) { a.Email = "" }, "email"},
		{"missing display name", func(a *Assertion) { a.DisplayName = "" }, "display_name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAssertion()
			tt.mutate(a)

			err := a.Validate()
			var upErr *UpstreamError
			if !errors.As(err, &upErr) {
				t.Fatalf("Validate() error = %v, want *UpstreamError", err)
			}
			if upErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", upErr.Field, tt.wantField)
			}
		})
	}

	if err := validAssertion().Validate(); err != nil {
		t.Errorf("Validate() on complete assertion = %v", err)
	}
	var nilAssertion *Assertion
	if err := nilAssertion.Validate(); err == nil {
		t.Error("Validate() on nil assertion should fail")
	}
}

func TestProvision_CreatesUserOnFirstSight(t *testing.T) {
	p, _ := newTestProvisioner(t)
	ctx := context.Background()

	user, created, err := p.Provision(ctx, validAssertion())
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if !created {
		t.Error("created = false, want true for first sight")
	}
	if user.ID == "" {
		t.Error("user missing ID")
	}
	if user.ExternalSubjectID != "upstream|abc123" {
		t.Errorf("ExternalSubjectID = %q", user.ExternalSubjectID)
	}
	if !user.Active {
		t.Error("new user should be active")
	}
	if len(user.UpstreamGroups) != 2 {
		t.Errorf("UpstreamGroups = %v", user.UpstreamGroups)
	}
	if user.LastLoginAt.IsZero() {
		t.Error("LastLoginAt not set")
	}
}

func TestProvision_RefreshesExistingUser(t *testing.T) {
	p, store := newTestProvisioner(t)
	ctx := context.Background()

	first, _, err := p.Provision(ctx, validAssertion())
	if err != nil {
		t.Fatal(err)
	}

	// Same subject, changed profile.
	a := validAssertion()
	a.Email = "jamie.t@example.com"
	a.DisplayName = "Jamie T."
	a.Department = "Platform"
	a.GroupNames = []string{"Platform"}

	second, created, err := p.Provision(ctx, a)
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if created {
		t.Error("created = true for an existing user")
	}
	if second.ID != first.ID {
		t.Errorf("user ID changed across sign-ins: %q vs %q", second.ID, first.ID)
	}
	if second.Email != "jamie.t@example.com" || second.Department != "Platform" {
		t.Errorf("profile not refreshed: %+v", second)
	}
	if len(second.UpstreamGroups) != 1 || second.UpstreamGroups[0] != "Platform" {
		t.Errorf("UpstreamGroups = %v, want [Platform]", second.UpstreamGroups)
	}

	stored, err := store.GetUserByExternalSubject(ctx, a.ExternalSubjectID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Email != "jamie.t@example.com" {
		t.Error("refresh not persisted")
	}
}

func TestProvision_UpdatesLastLogin(t *testing.T) {
	p, _ := newTestProvisioner(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return base }

	first, _, err := p.Provision(ctx, validAssertion())
	if err != nil {
		t.Fatal(err)
	}

	p.now = func() time.Time { return base.Add(48 * time.Hour) }
	second, _, err := p.Provision(ctx, validAssertion())
	if err != nil {
		t.Fatal(err)
	}

	if !second.LastLoginAt.After(first.LastLoginAt) {
		t.Errorf("LastLoginAt not advanced: %v -> %v", first.LastLoginAt, second.LastLoginAt)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on refresh: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
}

func TestProvision_InactiveUser(t *testing.T) {
	p, store := newTestProvisioner(t)
	ctx := context.Background()

	user, _, err := p.Provision(ctx, validAssertion())
	if err != nil {
		t.Fatal(err)
	}
	user.Active = false
	if err := store.SaveUser(ctx, user); err != nil {
		t.Fatal(err)
	}

	got, created, err := p.Provision(ctx, validAssertion())
	if !errors.Is(err, ErrUserInactive) {
		t.Fatalf("Provision() error = %v, want ErrUserInactive", err)
	}
	if created {
		t.Error("created = true for an existing inactive user")
	}
	// The user is still returned so the caller can audit the attempt.
	if got == nil || got.ID != user.ID {
		t.Errorf("inactive user not returned: %+v", got)
	}
}

func TestProvision_InvalidAssertion(t *testing.T) {
	p, _ := newTestProvisioner(t)

	a := validAssertion()
	a.Email = ""
	if _, _, err := p.Provision(context.Background(), a); err == nil {
		t.Error("Provision() with invalid assertion should fail")
	}
}
