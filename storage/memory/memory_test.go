package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/appportal/hubauth/internal/testutil"
	"github.com/appportal/hubauth/storage"
)

// ============================================================
// ClientStore
// ============================================================

func TestStore_SaveAndGetClient(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	client := testutil.NewTestClient()
	testutil.AssertNoError(t, store.SaveClient(ctx, client))

	got, err := store.GetClient(ctx, client.ClientID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.ClientID, client.ClientID)
	testutil.AssertEqual(t, got.Name, client.Name)
	testutil.AssertEqual(t, len(got.RedirectURIs), 1)

	// The returned value is a copy; mutating it must not affect the store.
	got.Name = "mutated"
	again, err := store.GetClient(ctx, client.ClientID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, again.Name, client.Name)
}

func TestStore_GetClient_NotFound(t *testing.T) {
	store := New()
	defer store.Stop()

	_, err := store.GetClient(context.Background(), "hub_missing")
	if !errors.Is(err, storage.ErrClientNotFound) {
		t.Fatalf("GetClient() error = %v, want ErrClientNotFound", err)
	}
}

func TestStore_ValidateClientSecret(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	client := testutil.NewTestClient()
	testutil.AssertNoError(t, store.SaveClient(ctx, client))

	tests := []struct {
		name     string
		clientID string
		secret   string
		wantErr  bool
	}{
		{"correct secret", client.ClientID, "secret", false},
		{"wrong secret", client.ClientID, "wrong", true},
		{"unknown client", "hub_unknown", "secret", true},
		{"empty secret", client.ClientID, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.ValidateClientSecret(ctx, tt.clientID, tt.secret)
			if tt.wantErr {
				if !errors.Is(err, storage.ErrInvalidClientSecret) {
					t.Errorf("ValidateClientSecret() error = %v, want ErrInvalidClientSecret", err)
				}
			} else {
				testutil.AssertNoError(t, err)
			}
		})
	}
}

func TestStore_ValidateClientSecret_InactiveClient(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	client := testutil.NewTestClient()
	client.Active = false
	testutil.AssertNoError(t, store.SaveClient(ctx, client))

	err := store.ValidateClientSecret(ctx, client.ClientID, "secret")
	if !errors.Is(err, storage.ErrInvalidClientSecret) {
		t.Fatalf("ValidateClientSecret() error = %v, want ErrInvalidClientSecret", err)
	}
}

func TestStore_DeleteClient_Cascades(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	client := testutil.NewTestClient()
	testutil.AssertNoError(t, store.SaveClient(ctx, client))

	grant := &storage.Grant{
		ID:        "grant-1",
		ClientID:  client.ClientID,
		Subject:   storage.SubjectUser("user-123"),
		CreatedAt: time.Now(),
	}
	testutil.AssertNoError(t, store.SaveGrant(ctx, grant))

	code := testutil.NewTestAuthorizationCode()
	testutil.AssertNoError(t, store.SaveAuthorizationCode(ctx, code))

	pair := testutil.NewTestTokenPair()
	testutil.AssertNoError(t, store.SaveTokenPair(ctx, pair))

	testutil.AssertNoError(t, store.DeleteClient(ctx, client.ClientID))

	if _, err := store.GetGrant(ctx, grant.ID); !errors.Is(err, storage.ErrGrantNotFound) {
		t.Errorf("grant survived client deletion: %v", err)
	}
	if _, err := store.GetAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("code survived client deletion: %v", err)
	}
	if _, err := store.GetTokenPairByAccess(ctx, pair.AccessToken); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("token pair survived client deletion: %v", err)
	}
}

// ============================================================
// UserStore
// ============================================================

func TestStore_SaveAndGetUser(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	user := testutil.NewTestUser()
	testutil.AssertNoError(t, store.SaveUser(ctx, user))

	got, err := store.GetUser(ctx, user.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.Email, user.Email)

	bySubject, err := store.GetUserByExternalSubject(ctx, user.ExternalSubjectID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, bySubject.ID, user.ID)
}

func TestStore_GetUser_NotFound(t *testing.T) {
	store := New()
	defer store.Stop()

	_, err := store.GetUser(context.Background(), "missing")
	if !errors.Is(err, storage.ErrUserNotFound) {
		t.Fatalf("GetUser() error = %v, want ErrUserNotFound", err)
	}
}

func TestStore_SaveUser_Update(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	user := testutil.NewTestUser()
	testutil.AssertNoError(t, store.SaveUser(ctx, user))

	user.DisplayName = "Jamie Renamed"
	user.UpstreamGroups = []string{"Engineering", "Platform"}
	testutil.AssertNoError(t, store.SaveUser(ctx, user))

	got, err := store.GetUser(ctx, user.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.DisplayName, "Jamie Renamed")
	testutil.AssertEqual(t, len(got.UpstreamGroups), 2)
}

// ============================================================
// GroupStore
// ============================================================

func TestStore_GroupMembership(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	group := &storage.Group{ID: "grp-1", Name: "Engineering", CreatedAt: time.Now()}
	testutil.AssertNoError(t, store.SaveGroup(ctx, group))

	testutil.AssertNoError(t, store.AddGroupMember(ctx, group.ID, "user-123"))
	// Idempotent: adding twice is not an error and not a duplicate.
	testutil.AssertNoError(t, store.AddGroupMember(ctx, group.ID, "user-123"))

	members, err := store.GetGroupMembers(ctx, group.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(members), 1)

	groupIDs, err := store.GetUserGroupIDs(ctx, "user-123")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(groupIDs), 1)
	testutil.AssertEqual(t, groupIDs[0], group.ID)

	testutil.AssertNoError(t, store.RemoveGroupMember(ctx, group.ID, "user-123"))
	members, err = store.GetGroupMembers(ctx, group.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(members), 0)
}

func TestStore_AddGroupMember_UnknownGroup(t *testing.T) {
	store := New()
	defer store.Stop()

	err := store.AddGroupMember(context.Background(), "missing", "user-123")
	if !errors.Is(err, storage.ErrGroupNotFound) {
		t.Fatalf("AddGroupMember() error = %v, want ErrGroupNotFound", err)
	}
}

func TestStore_DeleteGroup_CascadesGrants(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	group := &storage.Group{ID: "grp-1", Name: "Engineering", CreatedAt: time.Now()}
	testutil.AssertNoError(t, store.SaveGroup(ctx, group))
	testutil.AssertNoError(t, store.AddGroupMember(ctx, group.ID, "user-123"))

	grant := &storage.Grant{
		ID:        "grant-grp",
		ClientID:  "hub_test_client",
		Subject:   storage.SubjectGroup(group.ID),
		CreatedAt: time.Now(),
	}
	testutil.AssertNoError(t, store.SaveGrant(ctx, grant))

	testutil.AssertNoError(t, store.DeleteGroup(ctx, group.ID))

	if _, err := store.GetGrant(ctx, grant.ID); !errors.Is(err, storage.ErrGrantNotFound) {
		t.Errorf("group grant survived group deletion: %v", err)
	}
	groupIDs, err := store.GetUserGroupIDs(ctx, "user-123")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(groupIDs), 0)
}

// ============================================================
// GrantStore
// ============================================================

func TestStore_SaveGrant_Duplicate(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	grant := &storage.Grant{
		ID:        "grant-1",
		ClientID:  "hub_test_client",
		Subject:   storage.SubjectUser("user-123"),
		CreatedAt: time.Now(),
	}
	testutil.AssertNoError(t, store.SaveGrant(ctx, grant))

	dup := &storage.Grant{
		ID:        "grant-2",
		ClientID:  "hub_test_client",
		Subject:   storage.SubjectUser("user-123"),
		CreatedAt: time.Now(),
	}
	if err := store.SaveGrant(ctx, dup); !errors.Is(err, storage.ErrDuplicateGrant) {
		t.Fatalf("SaveGrant() duplicate error = %v, want ErrDuplicateGrant", err)
	}

	// Same ID as subject but different kind is a distinct grant.
	other := &storage.Grant{
		ID:        "grant-3",
		ClientID:  "hub_test_client",
		Subject:   storage.SubjectGroup("user-123"),
		CreatedAt: time.Now(),
	}
	testutil.AssertNoError(t, store.SaveGrant(ctx, other))
}

func TestStore_DeleteGrant_AllowsRegrant(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	grant := &storage.Grant{
		ID:        "grant-1",
		ClientID:  "hub_test_client",
		Subject:   storage.SubjectUser("user-123"),
		CreatedAt: time.Now(),
	}
	testutil.AssertNoError(t, store.SaveGrant(ctx, grant))
	testutil.AssertNoError(t, store.DeleteGrant(ctx, grant.ID))

	grant.ID = "grant-2"
	testutil.AssertNoError(t, store.SaveGrant(ctx, grant))
}

func TestStore_ListGrantsForClient(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	for i, subject := range []storage.GrantSubject{
		storage.SubjectUser("user-a"),
		storage.SubjectUser("user-b"),
		storage.SubjectGroup("grp-1"),
	} {
		grant := &storage.Grant{
			ID:        testutil.GenerateRandomString(8),
			ClientID:  "hub_test_client",
			Subject:   subject,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		testutil.AssertNoError(t, store.SaveGrant(ctx, grant))
	}

	grants, err := store.ListGrantsForClient(ctx, "hub_test_client")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(grants), 3)

	grants, err = store.ListGrantsForClient(ctx, "hub_other")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(grants), 0)
}

// ============================================================
// CodeStore
// ============================================================

func TestStore_ConsumeAuthorizationCode(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	code := testutil.NewTestAuthorizationCode()
	testutil.AssertNoError(t, store.SaveAuthorizationCode(ctx, code))

	consumed, err := store.ConsumeAuthorizationCode(ctx, code.Code)
	testutil.AssertNoError(t, err)
	if consumed.ConsumedAt == nil {
		t.Fatal("ConsumeAuthorizationCode() returned code without ConsumedAt set")
	}

	// Second redemption fails, and the record stays readable for attribution.
	if _, err := store.ConsumeAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrCodeConsumed) {
		t.Fatalf("second consume error = %v, want ErrCodeConsumed", err)
	}
	got, err := store.GetAuthorizationCode(ctx, code.Code)
	testutil.AssertNoError(t, err)
	if got.ConsumedAt == nil {
		t.Error("consumed code no longer readable with ConsumedAt")
	}
}

func TestStore_ConsumeAuthorizationCode_NotFound(t *testing.T) {
	store := New()
	defer store.Stop()

	_, err := store.ConsumeAuthorizationCode(context.Background(), "missing")
	if !errors.Is(err, storage.ErrCodeNotFound) {
		t.Fatalf("ConsumeAuthorizationCode() error = %v, want ErrCodeNotFound", err)
	}
}

func TestStore_ConsumeAuthorizationCode_Expired(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	code := testutil.NewTestAuthorizationCode()
	code.ExpiresAt = time.Now().Add(-time.Minute)
	testutil.AssertNoError(t, store.SaveAuthorizationCode(ctx, code))

	if _, err := store.ConsumeAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrCodeExpired) {
		t.Fatalf("ConsumeAuthorizationCode() error = %v, want ErrCodeExpired", err)
	}
}

func TestStore_ConsumeAuthorizationCode_Concurrent(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	code := testutil.NewTestAuthorizationCode()
	testutil.AssertNoError(t, store.SaveAuthorizationCode(ctx, code))

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ConsumeAuthorizationCode(ctx, code.Code)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var winners int
	for err := range results {
		if err == nil {
			winners++
		} else if !errors.Is(err, storage.ErrCodeConsumed) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	testutil.AssertEqual(t, winners, 1)
}

// ============================================================
// TokenStore
// ============================================================

func TestStore_GetTokenPairByAccess(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	pair := testutil.NewTestTokenPair()
	testutil.AssertNoError(t, store.SaveTokenPair(ctx, pair))

	got, err := store.GetTokenPairByAccess(ctx, pair.AccessToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.ID, pair.ID)

	if _, err := store.GetTokenPairByAccess(ctx, "missing"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("unknown access token error = %v, want ErrTokenNotFound", err)
	}
}

func TestStore_GetTokenPairByAccess_Revoked(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	pair := testutil.NewTestTokenPair()
	testutil.AssertNoError(t, store.SaveTokenPair(ctx, pair))
	testutil.AssertNoError(t, store.RevokeTokenPair(ctx, pair.ID))

	got, err := store.GetTokenPairByAccess(ctx, pair.AccessToken)
	if !errors.Is(err, storage.ErrTokenRevoked) {
		t.Fatalf("GetTokenPairByAccess() error = %v, want ErrTokenRevoked", err)
	}
	if got != nil {
		t.Error("revoked pair should not be returned via access token lookup")
	}
}

func TestStore_GetTokenPairByRefresh_RevokedReturnsPair(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	pair := testutil.NewTestTokenPair()
	testutil.AssertNoError(t, store.SaveTokenPair(ctx, pair))
	testutil.AssertNoError(t, store.RevokeTokenPair(ctx, pair.ID))

	got, err := store.GetTokenPairByRefresh(ctx, pair.RefreshToken)
	if !errors.Is(err, storage.ErrTokenRevoked) {
		t.Fatalf("GetTokenPairByRefresh() error = %v, want ErrTokenRevoked", err)
	}
	if got == nil {
		t.Fatal("revoked pair must be returned alongside ErrTokenRevoked")
	}
	testutil.AssertEqual(t, got.UserID, pair.UserID)
	testutil.AssertEqual(t, got.ClientID, pair.ClientID)
}

func TestStore_GetTokenPairByRefresh_Expired(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	pair := testutil.NewTestTokenPair()
	pair.RefreshExpiresAt = time.Now().Add(-time.Hour)
	testutil.AssertNoError(t, store.SaveTokenPair(ctx, pair))

	if _, err := store.GetTokenPairByRefresh(ctx, pair.RefreshToken); !errors.Is(err, storage.ErrTokenExpired) {
		t.Fatalf("GetTokenPairByRefresh() error = %v, want ErrTokenExpired", err)
	}
}

func TestStore_RotateTokenPair(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	oldPair := testutil.NewTestTokenPair()
	testutil.AssertNoError(t, store.SaveTokenPair(ctx, oldPair))

	newPair := testutil.NewTestTokenPair()
	rotated, err := store.RotateTokenPair(ctx, oldPair.RefreshToken, oldPair.ClientID, newPair)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, rotated.ID, oldPair.ID)
	if rotated.RevokedAt == nil {
		t.Fatal("rotated-out pair should be marked revoked")
	}

	// New pair is live, old refresh token is dead.
	live, err := store.GetTokenPairByRefresh(ctx, newPair.RefreshToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, live.ID, newPair.ID)

	if _, err := store.GetTokenPairByRefresh(ctx, oldPair.RefreshToken); !errors.Is(err, storage.ErrTokenRevoked) {
		t.Fatalf("old refresh token error = %v, want ErrTokenRevoked", err)
	}
}

func TestStore_RotateTokenPair_WrongClient(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	pair := testutil.NewTestTokenPair()
	testutil.AssertNoError(t, store.SaveTokenPair(ctx, pair))

	_, err := store.RotateTokenPair(ctx, pair.RefreshToken, "hub_other_client", testutil.NewTestTokenPair())
	if !errors.Is(err, storage.ErrTokenNotFound) {
		t.Fatalf("RotateTokenPair() wrong-client error = %v, want ErrTokenNotFound", err)
	}

	// The pair is untouched.
	live, err := store.GetTokenPairByRefresh(ctx, pair.RefreshToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, live.ID, pair.ID)
}

func TestStore_RotateTokenPair_Concurrent(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	pair := testutil.NewTestTokenPair()
	testutil.AssertNoError(t, store.SaveTokenPair(ctx, pair))

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RotateTokenPair(ctx, pair.RefreshToken, pair.ClientID, testutil.NewTestTokenPair())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var winners int
	for err := range results {
		if err == nil {
			winners++
		} else if !errors.Is(err, storage.ErrTokenRevoked) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	testutil.AssertEqual(t, winners, 1)
}

func TestStore_RevokeTokenPair_Idempotent(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	pair := testutil.NewTestTokenPair()
	testutil.AssertNoError(t, store.SaveTokenPair(ctx, pair))

	testutil.AssertNoError(t, store.RevokeTokenPair(ctx, pair.ID))
	testutil.AssertNoError(t, store.RevokeTokenPair(ctx, pair.ID))
}

func TestStore_RevokeAllForUserClient(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		pair := testutil.NewTestTokenPair()
		testutil.AssertNoError(t, store.SaveTokenPair(ctx, pair))
	}
	other := testutil.NewTestTokenPair()
	other.ClientID = "hub_other_client"
	testutil.AssertNoError(t, store.SaveTokenPair(ctx, other))

	revoked, err := store.RevokeAllForUserClient(ctx, "user-123", "hub_test_client")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, revoked, 3)

	// The unrelated client's pair is untouched.
	live, err := store.GetTokenPairByRefresh(ctx, other.RefreshToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, live.ID, other.ID)

	// Second call finds nothing live.
	revoked, err = store.RevokeAllForUserClient(ctx, "user-123", "hub_test_client")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, revoked, 0)
}

// ============================================================
// Cleanup
// ============================================================

func TestStore_CleanupRemovesExpiredCodes(t *testing.T) {
	store := NewWithInterval(10 * time.Millisecond)
	defer store.Stop()
	ctx := context.Background()

	expired := testutil.NewTestAuthorizationCode()
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	testutil.AssertNoError(t, store.SaveAuthorizationCode(ctx, expired))

	live := testutil.NewTestAuthorizationCode()
	testutil.AssertNoError(t, store.SaveAuthorizationCode(ctx, live))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := store.GetAuthorizationCode(ctx, expired.Code); errors.Is(err, storage.ErrCodeNotFound) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if _, err := store.GetAuthorizationCode(ctx, expired.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("expired code not cleaned up: %v", err)
	}
	if _, err := store.GetAuthorizationCode(ctx, live.Code); err != nil {
		t.Errorf("live code removed by cleanup: %v", err)
	}
}
