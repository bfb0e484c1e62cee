// Package backup exports point-in-time snapshots of the credential records
// to S3-compatible object storage.
//
// # Snapshot Contents
//
// A snapshot is a single JSON document listing every record with its cipher
// text base64-encoded. Records are exported exactly as stored: sealed with
// the engine's derivation secret and the subject's passphrase. A snapshot
// therefore discloses nothing beyond record existence and timing, and
// restoring one requires the same unseal material as the live store.
//
// Keys follow the pattern <prefix>/snapshots/<RFC3339 timestamp>.json, so a
// bucket listing is chronological and retention can be enforced with plain
// lifecycle rules.
//
// # Scheduling
//
// Runner owns all snapshot execution. It takes one on every interval tick
// and one per TriggerSnapshot call, never concurrently. The admin API's
// snapshot endpoint calls TriggerSnapshot so an operator can export state
// right before risky maintenance.
package backup
