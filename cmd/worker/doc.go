// Package main (cmd/worker) implements the credential rotation worker.
//
// The worker serves the rotation job API: engines that lose a
// compare-and-swap race against a record offload the rotation here, and the
// worker drives it to completion with the same coordinator logic, minus the
// offload path. Jobs are deduplicated per subject, tracked in memory, and
// queryable until a retention window after they finish.
//
// The derivation secret that seals every credential record can be provided
// two ways:
//
//   - Direct: --derivation-secret-hex or --derivation-secret-file hand the
//     worker the hex-encoded secret at startup. Suitable for development and
//     for deployments with an external secret manager.
//
//   - Sealed startup: --unseal-threshold with --admin-keys-file starts the
//     worker without the secret. Only health and unseal endpoints answer;
//     the rotation API responds 503 and readiness reports sealed.
//     Administrators submit signed Shamir shares until the threshold is
//     reached, the secret is reconstructed in memory, and the worker mounts
//     the rotation API and becomes ready.
//
// Record storage is selected by URI (memory://, sqlite://, postgres://,
// vault://). Optional S3 snapshots of the encrypted records run on an
// interval and on demand through the signed admin endpoint.
//
// Configuration can come from a YAML file (--config, schema-validated) with
// any flag overriding the file value. The server drains and shuts down
// gracefully on SIGINT/SIGTERM.
//
// Example usage with a direct secret:
//
//	credential-engine-worker --listen-addr=0.0.0.0:8080 \
//	    --storage-uri=postgres://cred:pw@db:5432/records \
//	    --derivation-secret-hex=0123456789abcdef0123456789abcdef \
//	    --dispatch-token=$CREDENTIAL_ENGINE_DISPATCH_TOKEN
//
// Example usage with sealed startup:
//
//	credential-engine-worker --listen-addr=0.0.0.0:8080 \
//	    --storage-uri=vault://vault.internal:8200/secret \
//	    --unseal-threshold=3 \
//	    --admin-keys-file=/etc/credential-engine/admins.json \
//	    --dispatch-token=$CREDENTIAL_ENGINE_DISPATCH_TOKEN
package main
