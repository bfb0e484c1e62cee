// Package serviceresolver resolves rotation-worker service names to concrete
// host:port endpoints using DNS SRV records.
//
// The dispatch client can be configured with a static worker URL or with an
// SRV service name. In the latter case this package turns the service name
// into an ordered endpoint list, so worker pools can scale and move without
// configuration changes on the engine side.
//
// # Resolution Rules
//
// Queries go to a configurable DNS server (the systemd-resolved stub
// listener by default). Both the target and the port of each SRV record are
// honored, so workers may bind any port their record advertises. Records
// are ordered by priority, then by descending weight, and a lone "."
// target is treated as "service absent" per RFC 2782.
//
// Results are cached with a short TTL to keep dispatch latency flat without
// letting the endpoint list go stale as worker pools resize.
//
// # Usage Example
//
//	resolver := serviceresolver.NewResolver("", 0, log)
//	endpoints, err := resolver.ResolveEndpoints(ctx, "_rotation._tcp.workers.internal")
//	if err != nil {
//		log.Error("Worker discovery failed", "err", err)
//		return
//	}
//	// Dial endpoints[0] first, fall back down the list.
package serviceresolver
