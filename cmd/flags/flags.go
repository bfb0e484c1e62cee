// Package flags holds the flag definitions and logger/server setup shared by
// the credential-engine binaries.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/lucerna-id/credential-engine/common"
	"github.com/lucerna-id/credential-engine/config"
	"github.com/lucerna-id/credential-engine/httpserver"
)

// SetupLogger builds the process logger from the common logging flags.
func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// SetupWorkerLogger builds the worker logger from the merged configuration,
// so log settings from the config file apply unless overridden by flags.
func SetupWorkerLogger(cCtx *cli.Context, cfg *config.Config) (log *slog.Logger) {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cfg.LogDebug,
		JSON:    cfg.LogJSON,
		Service: cCtx.String("log-service"),
		Version: common.Version,
	})

	if cCtx.Bool(LogUidFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// ConfigureServer maps the merged worker configuration onto the HTTP server
// config.
func ConfigureServer(cfg *config.Config, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cfg.ListenAddr,
		MetricsAddr:              cfg.MetricsAddr,
		Log:                      logger,
		EnablePprof:              cfg.Pprof,
		DrainDuration:            time.Duration(cfg.DrainSeconds) * time.Second,
		GracefulShutdownDuration: time.Duration(cfg.ShutdownSeconds) * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// ApplyOverrides copies every explicitly set flag onto the configuration.
// Flags always win over config file values.
func ApplyOverrides(cCtx *cli.Context, cfg *config.Config) {
	if cCtx.IsSet(ListenAddrFlag.Name) {
		cfg.ListenAddr = cCtx.String(ListenAddrFlag.Name)
	}
	if cCtx.IsSet(MetricsAddrFlag.Name) {
		cfg.MetricsAddr = cCtx.String(MetricsAddrFlag.Name)
	}
	if cCtx.IsSet(LogJsonFlag.Name) {
		cfg.LogJSON = cCtx.Bool(LogJsonFlag.Name)
	}
	if cCtx.IsSet(LogDebugFlag.Name) {
		cfg.LogDebug = cCtx.Bool(LogDebugFlag.Name)
	}
	if cCtx.IsSet(PprofFlag.Name) {
		cfg.Pprof = cCtx.Bool(PprofFlag.Name)
	}
	if cCtx.IsSet(DrainSecondsFlag.Name) {
		cfg.DrainSeconds = int(cCtx.Int64(DrainSecondsFlag.Name))
	}
	if cCtx.IsSet(ShutdownSecondsFlag.Name) {
		cfg.ShutdownSeconds = int(cCtx.Int64(ShutdownSecondsFlag.Name))
	}
	if cCtx.IsSet(StorageURIFlag.Name) {
		cfg.StorageURI = cCtx.String(StorageURIFlag.Name)
	}
	if cCtx.IsSet(DerivationSecretHexFlag.Name) {
		cfg.DerivationSecretHex = cCtx.String(DerivationSecretHexFlag.Name)
	}
	if cCtx.IsSet(DerivationSecretFileFlag.Name) {
		cfg.DerivationSecretFile = cCtx.String(DerivationSecretFileFlag.Name)
	}
	if cCtx.IsSet(AdminKeysFileFlag.Name) {
		cfg.Unseal.AdminKeysFile = cCtx.String(AdminKeysFileFlag.Name)
	}
	if cCtx.IsSet(UnsealThresholdFlag.Name) {
		cfg.Unseal.Threshold = cCtx.Int(UnsealThresholdFlag.Name)
	}
	if cCtx.IsSet(UnsealTimeoutFlag.Name) {
		cfg.Unseal.TimeoutSeconds = cCtx.Int(UnsealTimeoutFlag.Name)
	}
	if cCtx.IsSet(DispatchTokenFlag.Name) {
		cfg.Dispatch.Token = cCtx.String(DispatchTokenFlag.Name)
	}
	if cCtx.IsSet(BackupBucketFlag.Name) {
		cfg.Backup.Bucket = cCtx.String(BackupBucketFlag.Name)
	}
	if cCtx.IsSet(BackupPrefixFlag.Name) {
		cfg.Backup.Prefix = cCtx.String(BackupPrefixFlag.Name)
	}
	if cCtx.IsSet(BackupRegionFlag.Name) {
		cfg.Backup.Region = cCtx.String(BackupRegionFlag.Name)
	}
	if cCtx.IsSet(BackupEndpointFlag.Name) {
		cfg.Backup.Endpoint = cCtx.String(BackupEndpointFlag.Name)
	}
	if cCtx.IsSet(BackupAccessKeyFlag.Name) {
		cfg.Backup.AccessKey = cCtx.String(BackupAccessKeyFlag.Name)
	}
	if cCtx.IsSet(BackupSecretKeyFlag.Name) {
		cfg.Backup.SecretKey = cCtx.String(BackupSecretKeyFlag.Name)
	}
	if cCtx.IsSet(BackupPathStyleFlag.Name) {
		cfg.Backup.ForcePathStyle = cCtx.Bool(BackupPathStyleFlag.Name)
	}
	if cCtx.IsSet(BackupIntervalFlag.Name) {
		cfg.Backup.IntervalMinutes = cCtx.Int(BackupIntervalFlag.Name)
	}
}

var ConfigFlag = &cli.StringFlag{
	Name:  "config",
	Usage: "path to the YAML worker config; flags override file values",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for the rotation API",
}

var StorageURIFlag = &cli.StringFlag{
	Name:  "storage-uri",
	Value: "memory://",
	Usage: "record store location: memory://, sqlite://path, postgres://..., vault://host:port/mount",
}

var DerivationSecretHexFlag = &cli.StringFlag{
	Name:    "derivation-secret-hex",
	Usage:   "hex-encoded derivation secret, at least 16 bytes; mutually exclusive with sealed startup",
	EnvVars: []string{"CREDENTIAL_ENGINE_SECRET_HEX"},
}

var DerivationSecretFileFlag = &cli.StringFlag{
	Name:  "derivation-secret-file",
	Usage: "file holding the hex-encoded derivation secret",
}

var AdminKeysFileFlag = &cli.StringFlag{
	Name:  "admin-keys-file",
	Usage: "JSON file with admin public keys; enables the signature-verified admin plane",
}

var UnsealThresholdFlag = &cli.IntFlag{
	Name:  "unseal-threshold",
	Usage: "Shamir share threshold; a value above zero starts the worker sealed",
}

var UnsealTimeoutFlag = &cli.IntFlag{
	Name:  "unseal-timeout-seconds",
	Value: 600,
	Usage: "how long a sealed worker waits for shares before giving up",
}

var DispatchTokenFlag = &cli.StringFlag{
	Name:    "dispatch-token",
	Usage:   "bearer token required by the rotation job API",
	EnvVars: []string{"CREDENTIAL_ENGINE_DISPATCH_TOKEN"},
}

var BackupBucketFlag = &cli.StringFlag{
	Name:  "backup-bucket",
	Usage: "S3 bucket for record snapshots; empty disables backups",
}

var BackupPrefixFlag = &cli.StringFlag{
	Name:  "backup-prefix",
	Usage: "key prefix for snapshot objects",
}

var BackupRegionFlag = &cli.StringFlag{
	Name:  "backup-region",
	Usage: "region of the snapshot bucket",
}

var BackupEndpointFlag = &cli.StringFlag{
	Name:  "backup-endpoint",
	Usage: "custom S3 endpoint for S3-compatible object stores",
}

var BackupAccessKeyFlag = &cli.StringFlag{
	Name:    "backup-access-key",
	Usage:   "static S3 access key; empty uses the SDK credential chain",
	EnvVars: []string{"CREDENTIAL_ENGINE_BACKUP_ACCESS_KEY"},
}

var BackupSecretKeyFlag = &cli.StringFlag{
	Name:    "backup-secret-key",
	Usage:   "static S3 secret key",
	EnvVars: []string{"CREDENTIAL_ENGINE_BACKUP_SECRET_KEY"},
}

var BackupPathStyleFlag = &cli.BoolFlag{
	Name:  "backup-path-style",
	Usage: "address the bucket in the path instead of the host (MinIO and friends)",
}

var BackupIntervalFlag = &cli.IntFlag{
	Name:  "backup-interval-minutes",
	Value: 60,
	Usage: "minutes between scheduled snapshots",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var ShutdownSecondsFlag = &cli.Int64Flag{
	Name:  "shutdown-seconds",
	Value: 30,
	Usage: "graceful shutdown timeout for the HTTP listeners",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
