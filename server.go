// Package hubauth is an embeddable OAuth 2.0 authorization server for an
// internal application portal. The portal authenticates employees against the
// corporate identity provider and provisions them as hub users; hubauth then
// issues authorization codes and token pairs to registered applications,
// gated by per-application access grants.
//
// The root package carries the HTTP layer. Business logic lives in the server
// package; this package re-exports its entry points so embedders only need
// one import.
package hubauth

import (
	"github.com/appportal/hubauth/server"
)

// Server is the transport-agnostic authorization server.
type Server = server.Server

// ServerConfig holds the authorization server configuration.
type ServerConfig = server.Config

// AuthorizeRequest carries the parameters of an authorization request.
type AuthorizeRequest = server.AuthorizeRequest

// ClientRegistration describes a new application to register.
type ClientRegistration = server.ClientRegistration

// NewServer creates a new authorization server.
var NewServer = server.New
