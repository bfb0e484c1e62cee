// Keygen generates fresh credential key material offline: a secp256k1
// keypair with its public identifiers, or a random derivation secret for a
// worker running in direct-secret mode. Nothing is written to disk; output
// goes to stdout only.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/lucerna-id/credential-engine/credstore"
)

var flagJSON *cli.BoolFlag = &cli.BoolFlag{
	Name:  "json",
	Usage: "Print the key material as JSON",
}

func main() {
	app := &cli.App{
		Name:           "keygen",
		Usage:          "generate credential key material",
		DefaultCommand: "material",
		Commands: []*cli.Command{
			&cli.Command{
				Name:        "material",
				Usage:       "",
				Description: "Generate a secp256k1 keypair with address and public key.",
				Flags: []cli.Flag{
					flagJSON,
				},
				Action: func(cCtx *cli.Context) error {
					material, err := credstore.GenerateKeyMaterial()
					if err != nil {
						return err
					}

					if cCtx.Bool(flagJSON.Name) {
						data, err := json.MarshalIndent(material, "", "  ")
						if err != nil {
							return err
						}
						fmt.Println(string(data))
						return nil
					}

					fmt.Printf("address:     %s\n", material.Address)
					fmt.Printf("public key:  %s\n", material.PublicKeyHex)
					fmt.Printf("private key: %s\n", material.PrivateKeyHex)
					return nil
				},
			},
			&cli.Command{
				Name:        "secret",
				Usage:       "",
				Description: "Generate a random derivation secret, hex encoded.",
				Action: func(cCtx *cli.Context) error {
					secret := make([]byte, 32)
					if _, err := rand.Read(secret); err != nil {
						return fmt.Errorf("failed to generate derivation secret: %w", err)
					}

					fmt.Println(hex.EncodeToString(secret))
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
