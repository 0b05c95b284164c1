// Package session defines the attendance session data model shared by the
// local store, the remote service and the reconciler.
//
// A Session is keyed by an ID that starts life as a local handle
// ("{unix-millis}-{random hex}") and is replaced by the server-assigned
// identifier once the remote service acknowledges the session. The student
// list is a frozen snapshot taken at save time.
//
// Error taxonomy:
//   - *ValidationError: the save input is rejected (e.g. ErrNoStudents)
//   - *StorageError: the local store failed; surfaced and retryable
//   - *RemoteSyncError: the remote service failed; logged, never surfaced by saves or deletes
//   - ErrNotFound: lookups report a missing session as a nil result instead
package session
