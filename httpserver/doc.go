// Package httpserver runs the worker's HTTP front: health and lifecycle
// endpoints, admin routes mounted at construction, and the rotation API
// plane under /api/internal.
//
// # Sealed Startup
//
// A worker that boots in sealed mode has no derivation secret and therefore
// no rotation handler. The server still starts immediately so that /livez
// answers and administrators can reach the unseal endpoints. The rotation
// plane is a slot: every request under /api/internal answers 503 until
// MountAPI installs the handler, and /readyz reports sealed for the same
// window. Load balancers therefore route rotation traffic only to unsealed
// workers without any extra coordination.
//
// # Lifecycle
//
// /livez is always 200 while the process runs. /readyz is 200 only when the
// server is undrained and the rotation API is mounted. /drain flips
// readiness off and logs when the configured drain window has passed, which
// is the signal that load balancers have had time to react; /undrain flips
// it back. RunInBackground starts the API and metrics listeners, Shutdown
// stops them gracefully within the configured timeout.
//
// Request logging uses the flashbots httplogger middleware on every mounted
// route group, including the API plane installed later.
package httpserver
