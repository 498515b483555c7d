// Package access implements grant evaluation for registered applications.
//
// Evaluation is a pure function over its inputs: the client record, the
// user's group memberships, and the client's grants. It performs no I/O and
// is monotonic with respect to grants and memberships - adding either can
// only widen access, never narrow it.
package access

import "github.com/appportal/hubauth/storage"

// Memberships is the set of group IDs a user belongs to.
type Memberships map[string]struct{}

// NewMemberships builds a membership set from a list of group IDs.
func NewMemberships(groupIDs []string) Memberships {
	m := make(Memberships, len(groupIDs))
	for _, id := range groupIDs {
		m[id] = struct{}{}
	}
	return m
}

// Evaluate reports whether the user may authorize against the client.
//
// Access is allowed when any of the following holds:
//   - the client is flagged public
//   - a grant names the user directly
//   - a grant names a group the user is a member of
//
// The client's Active flag is deliberately not consulted here; callers gate
// on it before evaluation so that a deactivated client fails uniformly at
// authentication rather than leaking grant state.
func Evaluate(client *storage.Client, userID string, memberships Memberships, grants []*storage.Grant) bool {
	if client == nil || userID == "" {
		return false
	}
	if client.IsPublic {
		return true
	}

	for _, grant := range grants {
		if grant.ClientID != client.ClientID {
			continue
		}
		switch grant.Subject.Kind {
		case storage.SubjectKindUser:
			if grant.Subject.ID == userID {
				return true
			}
		case storage.SubjectKindGroup:
			if _, ok := memberships[grant.Subject.ID]; ok {
				return true
			}
		}
	}

	return false
}

// AuthorizedUserIDs resolves a client's grants to the set of user IDs they
// cover. Group grants are expanded through the supplied member lookup. The
// result is deduplicated and order is unspecified.
//
// Public clients admit every authenticated user; this helper only expands
// explicit grants, so callers must special-case IsPublic themselves.
func AuthorizedUserIDs(clientID string, grants []*storage.Grant, groupMembers func(groupID string) []string) []string {
	seen := make(map[string]struct{})
	for _, grant := range grants {
		if grant.ClientID != clientID {
			continue
		}
		switch grant.Subject.Kind {
		case storage.SubjectKindUser:
			seen[grant.Subject.ID] = struct{}{}
		case storage.SubjectKindGroup:
			if groupMembers == nil {
				continue
			}
			for _, userID := range groupMembers(grant.Subject.ID) {
				seen[userID] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}
