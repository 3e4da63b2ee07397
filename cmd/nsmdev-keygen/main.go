// Command nsmdev-keygen generates a certificate chain for self-signing
// attestation documents: a root, an intermediate, and an end-entity
// certificate plus its signing key.  Point a dev driver at the end
// certificate and key, and hand the root certificate to verifying parties.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Amnesic-Systems/nsmdev/internal/errs"
	"github.com/Amnesic-Systems/nsmdev/keygen"
)

const (
	formatPEM = "pem"
	formatDER = "der"
)

var errFailedToParse = errors.New("failed to parse flags")

type config struct {
	format string
	days   int
	dir    string
}

func parseFlags(out io.Writer, args []string) (_ *config, err error) {
	defer errs.WrapErr(&err, errFailedToParse)

	fs := flag.NewFlagSet("nsmdev-keygen", flag.ContinueOnError)
	fs.SetOutput(out)

	format := fs.String(
		"format",
		formatPEM,
		"output format, either 'pem' or 'der'",
	)
	days := fs.Int(
		"days",
		365,
		"number of days the certificates are valid for",
	)
	dir := fs.String(
		"dir",
		"",
		"output directory; if empty, PEM is written to standard output",
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *format != formatPEM && *format != formatDER {
		return nil, fmt.Errorf("invalid format %q", *format)
	}
	if *days <= 0 {
		return nil, errors.New("flag -days must be positive")
	}
	if *format == formatDER && *dir == "" {
		return nil, errors.New("flag -dir must be provided for DER output")
	}

	return &config{
		format: *format,
		days:   *days,
		dir:    *dir,
	}, nil
}

func run(out io.Writer, args []string) (err error) {
	defer errs.Wrap(&err, "failed to generate certificate chain")

	cfg, err := parseFlags(out, args)
	if err != nil {
		return err
	}

	chain, err := keygen.Generate(time.Hour * 24 * time.Duration(cfg.days))
	if err != nil {
		return err
	}

	if cfg.dir == "" {
		return writeStdout(out, chain)
	}
	return writeDir(cfg, chain)
}

// writeStdout writes the PEM-encoded chain and signing key to the given
// writer, root first.
func writeStdout(out io.Writer, chain *keygen.CertChain) error {
	for _, cert := range []*keygen.Cert{
		&chain.Root, &chain.Intermediate, &chain.End,
	} {
		pemBytes, err := cert.PEM()
		if err != nil {
			return err
		}
		if _, err := out.Write(pemBytes); err != nil {
			return err
		}
	}
	keyPEM, err := chain.End.KeyPEM()
	if err != nil {
		return err
	}
	_, err = out.Write(keyPEM)
	return err
}

// writeDir writes the chain and signing key to the configured directory, one
// file per certificate.
func writeDir(cfg *config, chain *keygen.CertChain) error {
	encodeCert := func(c *keygen.Cert) ([]byte, error) { return c.PEM() }
	encodeKey := func(c *keygen.Cert) ([]byte, error) { return c.KeyPEM() }
	if cfg.format == formatDER {
		encodeCert = func(c *keygen.Cert) ([]byte, error) { return c.DER, nil }
		encodeKey = func(c *keygen.Cert) ([]byte, error) { return c.KeyDER() }
	}

	files := []struct {
		name   string
		encode func(*keygen.Cert) ([]byte, error)
		cert   *keygen.Cert
		mode   os.FileMode
	}{
		{"root-certificate", encodeCert, &chain.Root, 0644},
		{"int-certificate", encodeCert, &chain.Intermediate, 0644},
		{"end-certificate", encodeCert, &chain.End, 0644},
		{"end-signing-key", encodeKey, &chain.End, 0600},
	}

	for _, f := range files {
		b, err := f.encode(f.cert)
		if err != nil {
			return err
		}
		path := filepath.Join(cfg.dir, f.name+"."+cfg.format)
		if err := os.WriteFile(path, b, f.mode); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		log.Fatalf("Failed to run keygen: %v", err)
	}
}
