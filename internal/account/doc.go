// Package account defines the account model and the registry façade over
// the credential store.
package account
