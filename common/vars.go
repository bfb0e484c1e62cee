package common

// PackageName is the service identifier used in logs and metrics.
const PackageName = "credential-engine"

// Version is set during the build process via ldflags.
var Version = "dev"
