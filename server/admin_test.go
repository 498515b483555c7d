package server

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/appportal/hubauth/internal/testutil"
	"github.com/appportal/hubauth/storage"
)

func TestRegisterClient(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	client, secret, err := srv.RegisterClient(ctx, &ClientRegistration{
		Name:         "Wiki",
		Description:  "Internal wiki",
		RedirectURIs: []string{"https://wiki.example.com/oauth/callback"},
		Scopes:       []string{"openid", "email"},
	}, "203.0.113.5")
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}

	if !strings.HasPrefix(client.ClientID, "hub_") {
		t.Errorf("ClientID = %q, want hub_ prefix", client.ClientID)
	}
	if secret == "" {
		t.Fatal("missing plaintext secret")
	}
	if client.SecretHash == secret {
		t.Error("secret stored in plaintext")
	}
	if !client.Active {
		t.Error("new client should be active")
	}

	// The returned secret authenticates against the stored hash.
	if err := srv.store.ValidateClientSecret(ctx, client.ClientID, secret); err != nil {
		t.Errorf("returned secret does not validate: %v", err)
	}
}

func TestRegisterClient_Validation(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name string
		reg  *ClientRegistration
	}{
		{"nil registration", nil},
		{"missing name", &ClientRegistration{RedirectURIs: []string{"https://a.example.com/cb"}}},
		{"no redirect uris", &ClientRegistration{Name: "App"}},
		{"relative redirect uri", &ClientRegistration{Name: "App", RedirectURIs: []string{"/callback"}}},
		{"fragment in redirect uri", &ClientRegistration{Name: "App", RedirectURIs: []string{"https://a.example.com/cb#frag"}}},
		{"http non-loopback", &ClientRegistration{Name: "App", RedirectURIs: []string{"http://a.example.com/cb"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := srv.RegisterClient(ctx, tt.reg, ""); err == nil {
				t.Error("RegisterClient() should fail")
			}
		})
	}

	// Loopback HTTP and custom schemes are fine.
	for _, uri := range []string{"http://localhost:3000/cb", "http://127.0.0.1:3000/cb", "myapp://callback"} {
		if _, _, err := srv.RegisterClient(ctx, &ClientRegistration{Name: "App", RedirectURIs: []string{uri}}, ""); err != nil {
			t.Errorf("RegisterClient() with %q error = %v", uri, err)
		}
	}
}

func TestRotateClientSecret(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	client, oldSecret, err := srv.RegisterClient(ctx, &ClientRegistration{
		Name:         "App",
		RedirectURIs: []string{"https://a.example.com/cb"},
	}, "")
	if err != nil {
		t.Fatal(err)
	}

	newSecret, err := srv.RotateClientSecret(ctx, client.ClientID)
	if err != nil {
		t.Fatalf("RotateClientSecret() error = %v", err)
	}
	if newSecret == oldSecret {
		t.Error("rotation reissued the same secret")
	}

	if err := srv.store.ValidateClientSecret(ctx, client.ClientID, newSecret); err != nil {
		t.Errorf("new secret does not validate: %v", err)
	}
	if err := srv.store.ValidateClientSecret(ctx, client.ClientID, oldSecret); err == nil {
		t.Error("old secret still validates after rotation")
	}
}

func TestSetClientActive(t *testing.T) {
	srv := newTestServer(t)
	client := seedClient(t, srv)
	ctx := context.Background()

	if err := srv.SetClientActive(ctx, client.ClientID, false); err != nil {
		t.Fatalf("SetClientActive() error = %v", err)
	}
	if err := srv.store.ValidateClientSecret(ctx, client.ClientID, "secret"); err == nil {
		t.Error("deactivated client still authenticates")
	}

	if err := srv.SetClientActive(ctx, client.ClientID, true); err != nil {
		t.Fatalf("SetClientActive() error = %v", err)
	}
	if err := srv.store.ValidateClientSecret(ctx, client.ClientID, "secret"); err != nil {
		t.Errorf("reactivated client does not authenticate: %v", err)
	}
}

func TestGrantAccess(t *testing.T) {
	srv := newTestServer(t)
	client := seedClient(t, srv)
	user := seedUser(t, srv)
	ctx := context.Background()

	grant, err := srv.GrantAccess(ctx, client.ClientID, storage.SubjectUser(user.ID), "admin-1")
	if err != nil {
		t.Fatalf("GrantAccess() error = %v", err)
	}
	if grant.GrantedBy != "admin-1" {
		t.Errorf("GrantedBy = %q, want admin-1", grant.GrantedBy)
	}

	// Duplicate grant for the same (client, subject).
	_, err = srv.GrantAccess(ctx, client.ClientID, storage.SubjectUser(user.ID), "admin-2")
	if !errors.Is(err, storage.ErrDuplicateGrant) {
		t.Errorf("duplicate GrantAccess() error = %v, want ErrDuplicateGrant", err)
	}

	// Subjects must exist.
	if _, err := srv.GrantAccess(ctx, client.ClientID, storage.SubjectUser("nobody"), ""); !errors.Is(err, storage.ErrUserNotFound) {
		t.Errorf("GrantAccess() unknown user error = %v, want ErrUserNotFound", err)
	}
	if _, err := srv.GrantAccess(ctx, client.ClientID, storage.SubjectGroup("no-group"), ""); !errors.Is(err, storage.ErrGroupNotFound) {
		t.Errorf("GrantAccess() unknown group error = %v, want ErrGroupNotFound", err)
	}
	if _, err := srv.GrantAccess(ctx, "hub_unknown", storage.SubjectUser(user.ID), ""); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GrantAccess() unknown client error = %v, want ErrClientNotFound", err)
	}
	if _, err := srv.GrantAccess(ctx, client.ClientID, storage.GrantSubject{}, ""); err == nil {
		t.Error("GrantAccess() with zero subject should fail")
	}
}

func TestRevokeAccess(t *testing.T) {
	srv := newTestServer(t)
	client := seedClient(t, srv)
	user := seedUser(t, srv)
	ctx := context.Background()

	if _, err := srv.GrantAccess(ctx, client.ClientID, storage.SubjectUser(user.ID), ""); err != nil {
		t.Fatal(err)
	}

	if err := srv.RevokeAccess(ctx, client.ClientID, storage.SubjectUser(user.ID)); err != nil {
		t.Fatalf("RevokeAccess() error = %v", err)
	}

	// The user can no longer authorize.
	_, err := srv.Authorize(ctx, user, validAuthorizeRequest(client))
	assertFlowError(t, err, ErrorCodeAccessDenied)

	// Revoking a grant that does not exist.
	if err := srv.RevokeAccess(ctx, client.ClientID, storage.SubjectUser(user.ID)); !errors.Is(err, storage.ErrGrantNotFound) {
		t.Errorf("second RevokeAccess() error = %v, want ErrGrantNotFound", err)
	}
}

func TestRevokeAccess_TokensSurviveByDefault(t *testing.T) {
	srv := newTestServer(t)
	client := seedClient(t, srv)
	user := seedUser(t, srv)
	ctx := context.Background()

	if _, err := srv.GrantAccess(ctx, client.ClientID, storage.SubjectUser(user.ID), ""); err != nil {
		t.Fatal(err)
	}
	tok := exchange(t, srv, client, user)

	if err := srv.RevokeAccess(ctx, client.ClientID, storage.SubjectUser(user.ID)); err != nil {
		t.Fatal(err)
	}

	// Default policy: issued tokens run out their natural lifetime.
	if _, _, err := srv.ResolveAccessToken(ctx, tok.AccessToken); err != nil {
		t.Errorf("token revoked by grant removal despite default policy: %v", err)
	}
}

func TestRevokeAccess_RevokesTokensWhenConfigured(t *testing.T) {
	srv := newTestServer(t)
	srv.Config.RevokeTokensOnGrantRemoval = true
	client := seedClient(t, srv)
	user := seedUser(t, srv)
	ctx := context.Background()

	if _, err := srv.GrantAccess(ctx, client.ClientID, storage.SubjectUser(user.ID), ""); err != nil {
		t.Fatal(err)
	}
	tok := exchange(t, srv, client, user)

	if err := srv.RevokeAccess(ctx, client.ClientID, storage.SubjectUser(user.ID)); err != nil {
		t.Fatal(err)
	}

	if _, _, err := srv.ResolveAccessToken(ctx, tok.AccessToken); err == nil {
		t.Error("token survived grant removal with revocation enabled")
	}
}

func TestRevokeAccess_GroupGrantRevokesMembersTokens(t *testing.T) {
	srv := newTestServer(t)
	srv.Config.RevokeTokensOnGrantRemoval = true
	client := seedClient(t, srv)
	user := seedUser(t, srv)
	ctx := context.Background()

	group, err := srv.CreateGroup(ctx, "Engineering", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.AddGroupMember(ctx, group.ID, user.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.GrantAccess(ctx, client.ClientID, storage.SubjectGroup(group.ID), ""); err != nil {
		t.Fatal(err)
	}

	tok := exchange(t, srv, client, user)

	if err := srv.RevokeAccess(ctx, client.ClientID, storage.SubjectGroup(group.ID)); err != nil {
		t.Fatal(err)
	}

	if _, _, err := srv.ResolveAccessToken(ctx, tok.AccessToken); err == nil {
		t.Error("member token survived group grant removal with revocation enabled")
	}
}

func TestGroupLifecycle(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	group, err := srv.CreateGroup(ctx, "Engineering", "All engineers")
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	if group.ID == "" {
		t.Fatal("group missing ID")
	}

	if _, err := srv.CreateGroup(ctx, "", ""); err == nil {
		t.Error("CreateGroup() without name should fail")
	}

	if err := srv.AddGroupMember(ctx, group.ID, "user-123"); err != nil {
		t.Fatalf("AddGroupMember() error = %v", err)
	}
	if err := srv.RemoveGroupMember(ctx, group.ID, "user-123"); err != nil {
		t.Fatalf("RemoveGroupMember() error = %v", err)
	}

	if err := srv.DeleteGroup(ctx, group.ID); err != nil {
		t.Fatalf("DeleteGroup() error = %v", err)
	}
	if err := srv.DeleteGroup(ctx, group.ID); !errors.Is(err, storage.ErrGroupNotFound) {
		t.Errorf("second DeleteGroup() error = %v, want ErrGroupNotFound", err)
	}
}

func TestAuthorizedUsers(t *testing.T) {
	srv := newTestServer(t)
	client := seedClient(t, srv)
	ctx := context.Background()

	users := make([]*storage.User, 3)
	for i := range users {
		u := testutil.NewTestUser()
		u.ID = "user-" + string(rune('a'+i))
		u.ExternalSubjectID = "upstream|" + u.ID
		if err := srv.store.SaveUser(ctx, u); err != nil {
			t.Fatal(err)
		}
		users[i] = u
	}

	group, err := srv.CreateGroup(ctx, "Engineering", "")
	if err != nil {
		t.Fatal(err)
	}
	// user-a directly; user-b via group; user-c not at all.
	if err := srv.AddGroupMember(ctx, group.ID, users[1].ID); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.GrantAccess(ctx, client.ClientID, storage.SubjectUser(users[0].ID), ""); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.GrantAccess(ctx, client.ClientID, storage.SubjectGroup(group.ID), ""); err != nil {
		t.Fatal(err)
	}

	got, err := srv.AuthorizedUsers(ctx, client.ClientID)
	if err != nil {
		t.Fatalf("AuthorizedUsers() error = %v", err)
	}
	sort.Strings(got)
	want := []string{"user-a", "user-b"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("AuthorizedUsers() = %v, want %v", got, want)
	}
}

func TestAuthorizedUsers_PublicClient(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	client := testutil.NewTestClient()
	client.IsPublic = true
	if err := srv.store.SaveClient(ctx, client); err != nil {
		t.Fatal(err)
	}

	active := testutil.NewTestUser()
	if err := srv.store.SaveUser(ctx, active); err != nil {
		t.Fatal(err)
	}
	inactive := testutil.NewTestUser()
	inactive.ID = "user-inactive"
	inactive.ExternalSubjectID = "upstream|user-inactive"
	inactive.Active = false
	if err := srv.store.SaveUser(ctx, inactive); err != nil {
		t.Fatal(err)
	}

	got, err := srv.AuthorizedUsers(ctx, client.ClientID)
	if err != nil {
		t.Fatalf("AuthorizedUsers() error = %v", err)
	}
	if len(got) != 1 || got[0] != active.ID {
		t.Errorf("AuthorizedUsers() = %v, want [%s]", got, active.ID)
	}
}

func TestValidateRedirectURIFormat(t *testing.T) {
	valid := []string{
		"https://app.example.com/callback",
		"https://app.example.com/callback?tenant=a",
		"http://localhost:8080/cb",
		"http://127.0.0.1/cb",
		"myapp://oauth/callback",
	}
	for _, uri := range valid {
		if err := validateRedirectURIFormat(uri); err != nil {
			t.Errorf("validateRedirectURIFormat(%q) = %v, want nil", uri, err)
		}
	}

	invalid := []string{
		"",
		"/relative/path",
		"https://app.example.com/cb#fragment",
		"http://app.example.com/cb",
	}
	for _, uri := range invalid {
		if err := validateRedirectURIFormat(uri); err == nil {
			t.Errorf("validateRedirectURIFormat(%q) = nil, want error", uri)
		}
	}
}

// Grants created and removed in sequence keep timestamps sane.
func TestGrantTimestamps(t *testing.T) {
	srv := newTestServer(t)
	client := seedClient(t, srv)
	user := seedUser(t, srv)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	grant, err := srv.GrantAccess(ctx, client.ClientID, storage.SubjectUser(user.ID), "")
	if err != nil {
		t.Fatal(err)
	}
	if grant.CreatedAt.Before(before) {
		t.Errorf("CreatedAt = %v, unexpectedly old", grant.CreatedAt)
	}
}
