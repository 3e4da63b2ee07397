// Command nsmdev-verify fetches an attestation document from a running
// nsmdev-server and verifies it against a root certificate.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"

	"github.com/Amnesic-Systems/nsmdev/attestation"
	"github.com/Amnesic-Systems/nsmdev/internal/errs"
	"github.com/Amnesic-Systems/nsmdev/internal/nonce"
	"github.com/Amnesic-Systems/nsmdev/internal/server"
	"github.com/Amnesic-Systems/nsmdev/keygen"
)

var (
	errFailedToParse  = errors.New("failed to parse flags")
	errFailedToAttest = errors.New("failed to attest server")
)

type config struct {
	addr    string
	root    string
	timeout time.Duration
}

func parseFlags(out io.Writer, args []string) (_ *config, err error) {
	defer errs.WrapErr(&err, errFailedToParse)

	fs := flag.NewFlagSet("nsmdev-verify", flag.ContinueOnError)
	fs.SetOutput(out)

	addr := fs.String(
		"addr",
		"",
		"Address of the server, e.g.: http://localhost:8080",
	)
	root := fs.String(
		"root",
		"",
		"Path to the PEM-encoded root certificate to anchor verification at",
	)
	timeout := fs.Duration(
		"timeout",
		time.Second*10,
		"Timeout for the HTTP request",
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *addr == "" {
		return nil, errors.New("flag -addr must be provided")
	}
	if *root == "" {
		return nil, errors.New("flag -root must be provided")
	}

	return &config{
		addr:    *addr,
		root:    *root,
		timeout: *timeout,
	}, nil
}

func attestServer(ctx context.Context, cfg *config) (err error) {
	defer errs.WrapErr(&err, errFailedToAttest)

	rootPEM, err := os.ReadFile(cfg.root)
	if err != nil {
		return err
	}
	rootDER, err := keygen.ParseCertPEM(rootPEM)
	if err != nil {
		return err
	}

	// Generate a nonce to ensure that the attestation document is fresh
	// rather than replayed.
	n, err := nonce.New()
	if err != nil {
		return err
	}

	url := cfg.addr + server.PathAttestation + "?" + server.ParamNonce + "=" + n.URLEncode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: cfg.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %q with body: %s", resp.Status, body)
	}

	var rawDoc attestation.RawDocument
	if err := json.Unmarshal(body, &rawDoc); err != nil {
		return err
	}

	doc, err := attestation.Verify(rawDoc.Doc, attestation.VerifyOptions{
		Root: rootDER,
	})
	if err != nil {
		color.Red("Attestation document DOES NOT verify!")
		return err
	}
	if !bytes.Equal(doc.Nonce, n.ToSlice()) {
		color.Red("Attestation document DOES NOT contain our nonce!")
		return errors.New("nonce mismatch")
	}

	color.Green("Attestation document verifies!")
	if doc.ModuleID == attestation.DevModuleID {
		log.Println("Note: the document is self-signed and not backed by hardware.")
	}
	return nil
}

func run(ctx context.Context, out io.Writer, args []string) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	cfg, err := parseFlags(out, args)
	if err != nil {
		return err
	}
	return attestServer(ctx, cfg)
}

func main() {
	if err := run(context.Background(), os.Stdout, os.Args[1:]); err != nil {
		log.Fatalf("Failed to run verifier: %v", err)
	}
}
