package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/lucerna-id/credential-engine/api/adminclient"
	"github.com/lucerna-id/credential-engine/api/unsealhandler"
	"github.com/lucerna-id/credential-engine/cryptoutils"
	"github.com/lucerna-id/credential-engine/securebuf"
)

var flagWorkerAddr *cli.StringFlag = &cli.StringFlag{
	Name:  "worker-addr",
	Value: "http://127.0.0.1:8080",
	Usage: "Rotation worker address to request",
}
var flagAdminPrivkey *cli.StringFlag = &cli.StringFlag{
	Name:  "admin-privkey-file",
	Value: "admin-private.pem",
	Usage: "Path to admin private key",
}
var flagAdminPubkey *cli.StringFlag = &cli.StringFlag{
	Name:  "admin-pubkey-file",
	Value: "admin-public.pem",
	Usage: "Path to admin public key",
}
var flagAdminKeys *cli.StringFlag = &cli.StringFlag{
	Name:  "admin-keys-file",
	Value: "admin-keys.json",
	Usage: "Path to the admin keyset file the worker loads at startup",
}
var flagShareFile *cli.StringFlag = &cli.StringFlag{
	Name:  "share-file",
	Value: "unseal-share-0.json",
	Usage: "Path to file holding one unseal share",
}
var flagSharePrefix *cli.StringFlag = &cli.StringFlag{
	Name:  "share-file-prefix",
	Value: "unseal-share",
	Usage: "Prefix for generated share files (<prefix>-<index>.json)",
}

var flagSharesThreshold *cli.IntFlag = &cli.IntFlag{
	Name:  "shares-threshold",
	Value: 2,
}

var flagSharesTotal *cli.IntFlag = &cli.IntFlag{
	Name:  "shares-total",
	Value: 3,
}

var flagSecretHex *cli.StringFlag = &cli.StringFlag{
	Name:  "secret-hex",
	Usage: "Hex-encoded derivation secret to split",
}
var flagSecretFile *cli.StringFlag = &cli.StringFlag{
	Name:  "secret-file",
	Usage: "Path to file holding the hex-encoded derivation secret to split",
}
var flagGenerate *cli.BoolFlag = &cli.BoolFlag{
	Name:  "generate",
	Usage: "Generate a fresh random derivation secret instead of reading one",
}

func main() {
	app := &cli.App{
		Name:           "admin client",
		Usage:          "manage unsealing and snapshots of a credential rotation worker",
		DefaultCommand: "status",
		Commands: []*cli.Command{
			&cli.Command{
				Name:        "status",
				Usage:       "",
				Description: "Query the worker's seal state and unseal progress.",
				Flags: []cli.Flag{
					flagWorkerAddr,
				},
				Action: func(cCtx *cli.Context) error {
					baseURL := cCtx.String(flagWorkerAddr.Name)
					adminClient := adminclient.New(baseURL, nil)
					status, err := adminClient.Status(context.Background())
					if err != nil {
						return err
					}

					return printJSON(status)
				},
			},
			&cli.Command{
				Name:        "generate-admin",
				Usage:       "",
				Description: "Generate a new admin keypair and print its fingerprint.",
				Flags: []cli.Flag{
					flagAdminPrivkey,
					flagAdminPubkey,
				},
				Action: func(cCtx *cli.Context) error {
					privateKey, err := unsealhandler.GenerateAdminKey()
					if err != nil {
						return fmt.Errorf("failed to generate admin key: %w", err)
					}

					privateKeyPEM, err := unsealhandler.MarshalPrivateKeyPEM(privateKey)
					if err != nil {
						return err
					}
					publicKeyPEM, err := unsealhandler.MarshalPublicKeyPEM(&privateKey.PublicKey)
					if err != nil {
						return err
					}

					if err := os.WriteFile(cCtx.String(flagAdminPrivkey.Name), privateKeyPEM, 0600); err != nil {
						return err
					}
					if err := os.WriteFile(cCtx.String(flagAdminPubkey.Name), publicKeyPEM, 0600); err != nil {
						return err
					}

					fmt.Println(unsealhandler.KeyFingerprint(publicKeyPEM))
					return nil
				},
			},
			&cli.Command{
				Name:        "generate-admin-config",
				Usage:       "",
				Description: "Build the admin keyset file from admin public key PEMs.",
				Flags: []cli.Flag{
					flagAdminKeys,
					&cli.StringSliceFlag{
						Name: "admin-pubkey-files",
					},
				},
				Action: func(cCtx *cli.Context) error {
					var pubKeys [][]byte
					for _, pubkey := range cCtx.StringSlice("admin-pubkey-files") {
						publicKeyPEM, err := os.ReadFile(pubkey)
						if err != nil {
							return err
						}
						pubKeys = append(pubKeys, publicKeyPEM)
					}

					return unsealhandler.SaveAdminKeys(cCtx.String(flagAdminKeys.Name), pubKeys)
				},
			},
			&cli.Command{
				Name:        "split-shares",
				Usage:       "",
				Description: "Split a derivation secret into unseal share files, optionally encrypting each share to one admin's public key.",
				Flags: []cli.Flag{
					flagSecretHex,
					flagSecretFile,
					flagGenerate,
					flagSharePrefix,
					flagSharesTotal,
					flagSharesThreshold,
					&cli.StringSliceFlag{
						Name:  "admin-pubkey-files",
						Usage: "One public key per share; share N is encrypted for key N",
					},
				},
				Action: func(cCtx *cli.Context) error {
					total := cCtx.Int(flagSharesTotal.Name)
					threshold := cCtx.Int(flagSharesThreshold.Name)

					pubkeyFiles := cCtx.StringSlice("admin-pubkey-files")
					if len(pubkeyFiles) > 0 && len(pubkeyFiles) != total {
						return fmt.Errorf("got %d admin public keys for %d shares", len(pubkeyFiles), total)
					}

					secret, err := resolveSecret(cCtx)
					if err != nil {
						return err
					}
					defer securebuf.Wipe(secret)

					shares, err := unsealhandler.SplitSecret(secret, total, threshold)
					if err != nil {
						return err
					}

					prefix := cCtx.String(flagSharePrefix.Name)
					for i, share := range shares {
						path := fmt.Sprintf("%s-%d.json", prefix, i)
						if len(pubkeyFiles) > 0 {
							err = saveWrappedShare(path, i, share, pubkeyFiles[i])
						} else {
							err = adminclient.SaveShareFile(path, i, share)
						}
						securebuf.Wipe(share)
						if err != nil {
							return err
						}
						fmt.Println(path)
					}

					fmt.Printf("any %d of %d shares unseal the worker\n", threshold, total)
					return nil
				},
			},
			&cli.Command{
				Name:        "submit-share",
				Usage:       "",
				Description: "Submit one unseal share to a sealed worker.",
				Flags: []cli.Flag{
					flagWorkerAddr,
					flagAdminPrivkey,
					flagShareFile,
				},
				Action: func(cCtx *cli.Context) error {
					baseURL := cCtx.String(flagWorkerAddr.Name)
					privkeyFile := cCtx.String(flagAdminPrivkey.Name)
					privateKey, err := unsealhandler.LoadPrivateKey(privkeyFile)
					if err != nil {
						return err
					}

					sf, share, err := adminclient.LoadShareFile(cCtx.String(flagShareFile.Name))
					if err != nil {
						return err
					}
					if sf.Encrypted {
						privateKeyPEM, err := os.ReadFile(privkeyFile)
						if err != nil {
							return err
						}
						share, err = cryptoutils.DecryptWithPrivateKey(privateKeyPEM, share)
						if err != nil {
							return fmt.Errorf("failed to unwrap share for admin %s: %w", sf.Recipient, err)
						}
					}
					defer securebuf.Wipe(share)

					adminClient := adminclient.New(baseURL, privateKey)
					status, err := adminClient.SubmitShare(context.Background(), sf.ShareIndex, share)
					if err != nil {
						return err
					}

					return printJSON(status)
				},
			},
			&cli.Command{
				Name:        "trigger-snapshot",
				Usage:       "",
				Description: "Ask the worker to write an encrypted snapshot now.",
				Flags: []cli.Flag{
					flagWorkerAddr,
					flagAdminPrivkey,
				},
				Action: func(cCtx *cli.Context) error {
					baseURL := cCtx.String(flagWorkerAddr.Name)
					privateKey, err := unsealhandler.LoadPrivateKey(cCtx.String(flagAdminPrivkey.Name))
					if err != nil {
						return err
					}

					adminClient := adminclient.New(baseURL, privateKey)
					key, err := adminClient.TriggerSnapshot(context.Background())
					if err != nil {
						return err
					}

					fmt.Println(key)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// resolveSecret picks the derivation secret for split-shares from exactly
// one of --secret-hex, --secret-file, or --generate.
func resolveSecret(cCtx *cli.Context) ([]byte, error) {
	sources := 0
	for _, set := range []bool{
		cCtx.IsSet(flagSecretHex.Name),
		cCtx.IsSet(flagSecretFile.Name),
		cCtx.Bool(flagGenerate.Name),
	} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return nil, fmt.Errorf("exactly one of --%s, --%s or --%s is required",
			flagSecretHex.Name, flagSecretFile.Name, flagGenerate.Name)
	}

	if cCtx.Bool(flagGenerate.Name) {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate derivation secret: %w", err)
		}
		return secret, nil
	}

	secretHex := cCtx.String(flagSecretHex.Name)
	if cCtx.IsSet(flagSecretFile.Name) {
		data, err := os.ReadFile(cCtx.String(flagSecretFile.Name))
		if err != nil {
			return nil, err
		}
		secretHex = strings.TrimSpace(string(data))
	}

	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation secret hex: %w", err)
	}
	return secret, nil
}

// saveWrappedShare encrypts one share to an admin public key and writes it
// with the recipient's fingerprint, so the file is useless without that
// admin's private key.
func saveWrappedShare(path string, shareIndex int, share []byte, pubkeyFile string) error {
	publicKeyPEM, err := os.ReadFile(pubkeyFile)
	if err != nil {
		return err
	}

	wrapped, err := cryptoutils.EncryptWithPublicKey(publicKeyPEM, share)
	if err != nil {
		return fmt.Errorf("failed to wrap share for %s: %w", pubkeyFile, err)
	}
	return adminclient.SaveEncryptedShareFile(path, shareIndex, wrapped, unsealhandler.KeyFingerprint(publicKeyPEM))
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
