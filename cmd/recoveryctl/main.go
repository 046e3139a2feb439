// The recoveryctl binary splits a vault recovery key into trustee share
// files and recombines them. It runs entirely client-side and never talks
// to the custody service: the service only ever sees shares after the
// client has encrypted them for their trustees.
package main

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/heirloomvault/custody-backend/cryptoutils"
	"github.com/heirloomvault/custody-backend/shamir"
)

// shareFile is the on-disk share format. Value is base64 via encoding/json.
type shareFile struct {
	Index byte   `json:"index"`
	Value []byte `json:"value"`
}

var (
	sharesFlag = &cli.IntFlag{
		Name:  "shares",
		Value: 5,
		Usage: "number of shares to create (n)",
	}
	thresholdFlag = &cli.IntFlag{
		Name:  "threshold",
		Value: 3,
		Usage: "number of shares required to recover (k)",
	}
	secretFileFlag = &cli.StringFlag{
		Name:  "secret-file",
		Usage: "file holding the secret to split; a fresh 32-byte key is generated when unset",
	}
	outDirFlag = &cli.StringFlag{
		Name:  "out-dir",
		Value: ".",
		Usage: "directory to write share files into",
	}
	outFileFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "file to write the recovered secret to (stdout when unset)",
	}
)

func main() {
	app := &cli.App{
		Name:  "recoveryctl",
		Usage: "Split and recombine vault recovery keys client-side",
		Commands: []*cli.Command{
			{
				Name:   "split",
				Usage:  "split a recovery key into share files",
				Flags:  []cli.Flag{sharesFlag, thresholdFlag, secretFileFlag, outDirFlag},
				Action: runSplit,
			},
			{
				Name:      "combine",
				Usage:     "recover the secret from share files",
				ArgsUsage: "share-file [share-file...]",
				Flags:     []cli.Flag{thresholdFlag, outFileFlag},
				Action:    runCombine,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runSplit(cCtx *cli.Context) error {
	n := cCtx.Int(sharesFlag.Name)
	k := cCtx.Int(thresholdFlag.Name)

	var secret []byte
	if path := cCtx.String(secretFileFlag.Name); path != "" {
		var err error
		secret, err = os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read secret file: %w", err)
		}
	} else {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("failed to generate recovery key: %w", err)
		}
		fmt.Fprintln(os.Stderr, "generated a fresh 32-byte recovery key")
	}
	defer cryptoutils.Zero(secret)

	shares, err := shamir.Split(secret, n, k)
	if err != nil {
		return err
	}

	outDir := cCtx.String(outDirFlag.Name)
	for _, s := range shares {
		raw, err := json.MarshalIndent(shareFile{Index: s.Index, Value: s.Value}, "", "  ")
		if err != nil {
			return err
		}
		name := filepath.Join(outDir, fmt.Sprintf("share-%03d.json", s.Index))
		if err := os.WriteFile(name, raw, 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		fmt.Println(name)
	}

	fmt.Fprintf(os.Stderr, "wrote %d shares; any %d recover the key\n", n, k)
	return nil
}

func runCombine(cCtx *cli.Context) error {
	k := cCtx.Int(thresholdFlag.Name)
	if cCtx.NArg() == 0 {
		return fmt.Errorf("no share files given")
	}

	var shares []shamir.Share
	for _, path := range cCtx.Args().Slice() {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		var sf shareFile
		if err := json.Unmarshal(raw, &sf); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		shares = append(shares, shamir.Share{Index: sf.Index, Value: sf.Value})
	}

	secret, err := shamir.Combine(shares, k)
	if err != nil {
		return err
	}
	defer cryptoutils.Zero(secret)

	if out := cCtx.String(outFileFlag.Name); out != "" {
		if err := os.WriteFile(out, secret, 0o600); err != nil {
			return fmt.Errorf("failed to write recovered secret: %w", err)
		}
		fmt.Fprintf(os.Stderr, "recovered secret written to %s\n", out)
		return nil
	}

	if _, err := os.Stdout.Write(secret); err != nil {
		return err
	}
	return nil
}
