// Package crypto provides encryption services for credentials at rest.
//
// Implements AES-256-GCM for OAuth token sets stored in the account file.
// The key is derived from an environment-provided secret with PBKDF2-SHA256;
// when the secret is absent a documented insecure development fallback is
// used so the store never fails to initialize.
package crypto
