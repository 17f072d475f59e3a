// Package token manages the OAuth client lifecycle per account.
//
// Clients are cached by account id and refreshed proactively when the
// access token enters a safety window before expiry. Every mint runs
// through a persistence hook that carries the refresh token forward when
// the provider omits it from a rotation.
package token
