package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lucerna-id/credential-engine/api/rotationhandler"
	"github.com/lucerna-id/credential-engine/api/snapshothandler"
	"github.com/lucerna-id/credential-engine/api/unsealhandler"
	"github.com/lucerna-id/credential-engine/backup"
	"github.com/lucerna-id/credential-engine/cmd/flags"
	"github.com/lucerna-id/credential-engine/config"
	"github.com/lucerna-id/credential-engine/cryptoutils"
	"github.com/lucerna-id/credential-engine/httpserver"
	"github.com/lucerna-id/credential-engine/rotation"
	"github.com/lucerna-id/credential-engine/storage"
)

var workerFlags = append([]cli.Flag{
	flags.ConfigFlag,
	flags.ListenAddrFlag,
	flags.StorageURIFlag,
	flags.DerivationSecretHexFlag,
	flags.DerivationSecretFileFlag,
	flags.AdminKeysFileFlag,
	flags.UnsealThresholdFlag,
	flags.UnsealTimeoutFlag,
	flags.DispatchTokenFlag,
	flags.ShutdownSecondsFlag,
	flags.BackupBucketFlag,
	flags.BackupPrefixFlag,
	flags.BackupRegionFlag,
	flags.BackupEndpointFlag,
	flags.BackupAccessKeyFlag,
	flags.BackupSecretKeyFlag,
	flags.BackupPathStyleFlag,
	flags.BackupIntervalFlag,
	flags.LogServiceFlagFn("credential-engine-worker"),
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "credential-engine-worker",
		Usage: "Serve the credential rotation job API",
		Flags: workerFlags,
		Action: func(cCtx *cli.Context) error {
			// Merge config file and flags; flags win.
			cfg := config.Default()
			if path := cCtx.String(flags.ConfigFlag.Name); path != "" {
				loaded, err := config.Load(path)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			flags.ApplyOverrides(cCtx, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := flags.SetupWorkerLogger(cCtx, cfg)

			if cfg.Dispatch.Token == "" {
				logger.Error("dispatch-token is required; the rotation job API refuses unauthenticated callers")
				return errors.New("dispatch-token is required")
			}

			rotation.InitMetrics()

			// Record store
			storageFactory := storage.NewStorageBackendFactory(logger)
			store, err := storageFactory.RecordStoreFor(cfg.StorageURI)
			if err != nil {
				logger.Error("Failed to create record store", "err", err)
				return err
			}
			logger.Info("Record store ready", "store", store.Name())

			availCtx, availCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if !store.Available(availCtx) {
				logger.Warn("Record store not reachable at startup", "store", store.Name())
			}
			availCancel()

			serverCfg := flags.ConfigureServer(cfg, logger)

			// The signed admin plane needs the admin keyset; sealed startup
			// requires it, backups only gain their trigger endpoint from it.
			var adminKeys map[string][]byte
			if cfg.Unseal.AdminKeysFile != "" {
				adminKeys, err = unsealhandler.LoadAdminKeys(cfg.Unseal.AdminKeysFile)
				if err != nil {
					logger.Error("Failed to load admin keys", "err", err)
					return err
				}
				logger.Info("Admin keys loaded", "count", len(adminKeys))
			}

			var registrars []httpserver.RouteRegistrar

			sealedMode := cfg.Unseal.Threshold > 0
			var unsealer *unsealhandler.SecretUnsealer
			if sealedMode {
				unsealer, err = unsealhandler.NewSecretUnsealer(cfg.Unseal.Threshold, adminKeys, logger)
				if err != nil {
					logger.Error("Failed to create unsealer", "err", err)
					return err
				}
				unsealHandler, err := unsealhandler.NewHandler(unsealer, logger)
				if err != nil {
					return err
				}
				registrars = append(registrars, unsealHandler)
			}

			// Snapshot backups
			runnerCtx, stopRunner := context.WithCancel(context.Background())
			defer stopRunner()

			var runner *backup.Runner
			if cfg.Backup.Bucket != "" {
				archiver, err := backup.NewS3Archiver(store, &backup.S3ArchiverConfig{
					Bucket:         cfg.Backup.Bucket,
					Prefix:         cfg.Backup.Prefix,
					Region:         cfg.Backup.Region,
					Endpoint:       cfg.Backup.Endpoint,
					AccessKey:      cfg.Backup.AccessKey,
					SecretKey:      cfg.Backup.SecretKey,
					ForcePathStyle: cfg.Backup.ForcePathStyle,
					Log:            logger,
				})
				if err != nil {
					logger.Error("Failed to create snapshot archiver", "err", err)
					return err
				}
				runner, err = backup.NewRunner(archiver, time.Duration(cfg.Backup.IntervalMinutes)*time.Minute, logger)
				if err != nil {
					return err
				}
				if len(adminKeys) > 0 {
					snapshotHandler, err := snapshothandler.NewHandler(runner, adminKeys, logger)
					if err != nil {
						return err
					}
					registrars = append(registrars, snapshotHandler)
				} else {
					logger.Info("No admin keys configured, snapshot trigger endpoint disabled")
				}
			}

			server, err := httpserver.New(serverCfg, registrars...)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			// Records are sealed blobs whether or not the worker is, so
			// snapshots run from the start, sealed mode included.
			if runner != nil {
				go runner.Start(runnerCtx)
			}

			// Derivation secret: either reconstructed from Shamir shares
			// while the server runs sealed, or loaded directly.
			var secret []byte
			if sealedMode {
				logger.Info("Starting server sealed, waiting for unseal shares",
					"threshold", cfg.Unseal.Threshold,
					"timeout", cfg.Unseal.TimeoutSeconds)
				server.RunInBackground()

				waitCtx, waitCancel := context.WithTimeout(context.Background(),
					time.Duration(cfg.Unseal.TimeoutSeconds)*time.Second)
				defer waitCancel()

				buf, err := unsealer.WaitForSecret(waitCtx)
				if err != nil {
					logger.Error("Unseal failed", "err", err)
					server.Shutdown()
					return err
				}
				secret, err = buf.Bytes()
				buf.Clear()
				if err != nil {
					logger.Error("Failed to read reconstructed secret", "err", err)
					server.Shutdown()
					return err
				}
				logger.Info("Derivation secret reconstructed, unsealing worker")
			} else {
				secret, err = loadDirectSecret(cfg)
				if err != nil {
					logger.Error("Failed to load derivation secret", "err", err)
					return err
				}
			}

			// The sealer wipes the secret bytes it is handed.
			sealer, err := cryptoutils.NewCredentialSealer(secret)
			if err != nil {
				logger.Error("Failed to create credential sealer", "err", err)
				if sealedMode {
					server.Shutdown()
				}
				return err
			}

			// The worker's coordinator carries no dispatcher: a job that
			// cannot finish locally fails instead of bouncing between
			// workers.
			coordinator, err := rotation.NewCoordinator(&rotation.CoordinatorConfig{
				Records: store,
				Sealer:  sealer,
				Log:     logger,
			})
			if err != nil {
				if sealedMode {
					server.Shutdown()
				}
				return err
			}

			jobHandler, err := rotationhandler.NewHandler(coordinator, cfg.Dispatch.Token, logger)
			if err != nil {
				if sealedMode {
					server.Shutdown()
				}
				return err
			}
			server.MountAPI(jobHandler)

			if !sealedMode {
				logger.Info("Starting server")
				server.RunInBackground()
			}

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Worker is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			stopRunner()
			server.Shutdown()
			logger.Info("Worker shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadDirectSecret reads the derivation secret in direct mode, from the hex
// flag or from a file holding the hex string.
func loadDirectSecret(cfg *config.Config) ([]byte, error) {
	secretHex := cfg.DerivationSecretHex
	if secretHex == "" && cfg.DerivationSecretFile != "" {
		raw, err := os.ReadFile(cfg.DerivationSecretFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read derivation secret file: %w", err)
		}
		secretHex = strings.TrimSpace(string(raw))
	}
	if secretHex == "" {
		return nil, errors.New("a derivation secret is required: set derivation-secret-hex, derivation-secret-file, or configure sealed startup")
	}

	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation secret hex: %w", err)
	}
	if len(secret) < cryptoutils.MinDerivationSecretLen {
		return nil, fmt.Errorf("derivation secret must be at least %d bytes", cryptoutils.MinDerivationSecretLen)
	}
	return secret, nil
}
