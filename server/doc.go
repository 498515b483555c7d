// Package server implements the transport-agnostic core of the hubauth
// authorization server.
//
// It provides the authorization code flow, token issuance with refresh
// rotation and reuse detection, grant-based access evaluation, token
// resolution and revocation, and the admin operations (client registration,
// groups, grants). The HTTP layer in the root package is a thin adapter over
// this package.
//
// Key behaviors:
//   - Authorization codes are single-use; redemption is an atomic
//     compare-and-set, and reuse revokes every token pair derived for that
//     user and client
//   - Refresh tokens rotate on every use; presenting a revoked refresh token
//     likewise revokes all pairs for the user and client
//   - Access evaluation is additive: a user passes if the client is public,
//     directly granted, or granted through a group the user belongs to
//   - Protocol errors surface as FlowError values carrying the OAuth error
//     code and whether the error may be redirected to the client
//
// Example usage:
//
//	store := memory.New()
//	tokens, _ := token.NewManager(token.Config{
//	    Issuer:    "https://hub.example.com",
//	    AccessTTL: time.Hour,
//	    Key:       signingKey,
//	})
//
//	config := &server.Config{
//	    Issuer:    "https://hub.example.com",
//	    SignInURL: "https://hub.example.com/signin",
//	}
//
//	srv, err := server.New(store, tokens, config, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
package server
