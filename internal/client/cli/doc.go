// Package cli provides the interactive classdesk terminal client.
//
// It wires configuration, the local credential store, the request pipeline,
// the session manager and the view router, then serves a REPL. Typical flow:
// restore the previous session, open the dashboard or the login view, and
// execute user commands.
//
// Key features:
//   - Login / Logout / Register, with an optional remembered username
//   - Guarded views (dashboard, profile, classes, user management)
//   - Password change and recovery by code or reset link
//   - Raw authorized GETs of backend paths
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See App and runREPL for details.
package cli
