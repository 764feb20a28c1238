// Package client is the network side of the classdesk client.
//
// # Overview
//
// The package provides:
//  1. Pipeline: the only HTTP path to the backend. It attaches the bearer
//     token from the credential store, stamps an X-Request-ID, bounds every
//     call with a timeout and, on a 401/403 answer, clears the stored session
//     and navigates to the login view with a redirect back to the current one.
//     Password-change and password-reset endpoints are exempt from that redirect.
//  2. AuthClient: the auth gateway. It maps the backend's sign-in, sign-up,
//     sign-out and password-recovery endpoints onto one normalized shape.
//  3. Local database bootstrap (InitDatabase, RunMigrations) for the SQLite
//     file behind the credential store.
//
// # Error Handling
//
// Failed calls are *APIError values with a Kind (network, validation, auth,
// server). Match them with errors.Is against ErrUnavailable, ErrValidation,
// ErrUnauthorized and ErrServer, or read the human-readable text with Message.
// No call is retried automatically.
package client
