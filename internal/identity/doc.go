// Package identity handles bearer tokens for the activity channel.
//
// The server side consumes Verifier: token in, verified subject + role out.
// The identity provider itself is external; only its HS256 JWT contract is
// implemented here. The client side consumes TokenSource to mint fresh
// tokens before opening an authenticated connection.
package identity
