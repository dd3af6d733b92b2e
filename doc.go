// Package identity manages user identity records, their lazily-provisioned
// child resources (Profile, Settings), and the security-sensitive state
// transitions around them.
//
// User lifecycle:
//   - Users carry soft-state timestamps (disabled_at, archived_at) that are
//     persisted via Bun. AccountStateMachine centralizes the transition
//     graph, timestamp handling, and persistence. Archived is terminal.
//   - Every transition is a validated sparse patch guarded by the user's
//     version column; a concurrent conflicting write surfaces as
//     ErrStaleRecord instead of silently overwriting.
//
// Tokens:
//   - TokenIssuer mints fixed-length opaque secrets for the password reset
//     and email confirmation flows. Uniqueness lives in the storage unique
//     indexes; consumption clears the token in the same statement that
//     applies its effect, so every token is single-use.
//
// Provisioning:
//   - Profile and Settings are 1:1 child resources created on first access.
//     The read-then-insert race is resolved by treating the unique index as
//     the source of truth: a duplicate insert falls back to re-reading the
//     winner's row and never surfaces to callers.
//
// Directory:
//   - Directory exposes tenant-scoped and cross-tenant lookups as separate
//     operations so call sites are explicit about trust level, plus
//     GetUserInfo, the only path that guarantees both child resources exist.
package identity
