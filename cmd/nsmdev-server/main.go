// Command nsmdev-server runs an example HTTP service that hands out
// attestation documents.  Inside an enclave, it uses the Nitro hypervisor;
// outside, it uses a dev driver backed by a certificate chain that is either
// loaded from disk or generated on the fly.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"

	"github.com/Amnesic-Systems/nsmdev/driver"
	"github.com/Amnesic-Systems/nsmdev/driver/dev"
	"github.com/Amnesic-Systems/nsmdev/driver/nitro"
	"github.com/Amnesic-Systems/nsmdev/internal/errs"
	"github.com/Amnesic-Systems/nsmdev/internal/server"
	"github.com/Amnesic-Systems/nsmdev/keygen"
)

const ephemeralValidity = time.Hour * 24

var errFailedToParse = errors.New("failed to parse flags")

type config struct {
	addr      string
	vsockPort uint
	useNitro  bool
	keyFile   string
	certFile  string
	caFile    string
	rootOut   string
	debug     bool
}

func parseFlags(out io.Writer, args []string) (_ *config, err error) {
	defer errs.WrapErr(&err, errFailedToParse)

	fs := flag.NewFlagSet("nsmdev-server", flag.ContinueOnError)
	fs.SetOutput(out)

	addr := fs.String(
		"addr",
		":8080",
		"TCP address to listen on",
	)
	vsockPort := fs.Uint(
		"vsock-port",
		0,
		"AF_VSOCK port to listen on instead of TCP",
	)
	useNitro := fs.Bool(
		"nitro",
		false,
		"use the Nitro hypervisor; only works inside an enclave",
	)
	keyFile := fs.String(
		"key",
		"",
		"path to the PEM-encoded signing key",
	)
	certFile := fs.String(
		"cert",
		"",
		"path to the PEM-encoded end certificate",
	)
	caFile := fs.String(
		"ca",
		"",
		"path to the PEM-encoded intermediate certificate",
	)
	rootOut := fs.String(
		"root-out",
		"",
		"write the ephemeral chain's root certificate to the given path",
	)
	debug := fs.Bool(
		"debug",
		false,
		"enable debug logging",
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// The key, certificate, and intermediate always travel together.
	given := 0
	for _, f := range []string{*keyFile, *certFile, *caFile} {
		if f != "" {
			given++
		}
	}
	if given != 0 && given != 3 {
		return nil, errors.New("flags -key, -cert, and -ca must be given together")
	}
	if *useNitro && given != 0 {
		return nil, errors.New("flag -nitro cannot be combined with -key, -cert, or -ca")
	}

	return &config{
		addr:      *addr,
		vsockPort: *vsockPort,
		useNitro:  *useNitro,
		keyFile:   *keyFile,
		certFile:  *certFile,
		caFile:    *caFile,
		rootOut:   *rootOut,
		debug:     *debug,
	}, nil
}

// newDriver builds the driver the service runs on.  In order of preference:
// the Nitro hypervisor, a chain loaded from disk, or an ephemeral chain.
func newDriver(cfg *config, log zerolog.Logger) (driver.Driver, error) {
	if cfg.useNitro {
		return nitro.Open()
	}

	if cfg.keyFile != "" {
		return loadedDriver(cfg)
	}

	chain, err := keygen.Generate(ephemeralValidity)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("generated ephemeral certificate chain")
	if cfg.rootOut != "" {
		rootPEM, err := chain.Root.PEM()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(cfg.rootOut, rootPEM, 0644); err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.rootOut).Msg("wrote root certificate")
	}
	return dev.New(
		chain.End.Key,
		chain.End.DER,
		dev.WithCABundle(chain.Intermediate.DER),
	), nil
}

func loadedDriver(cfg *config) (_ driver.Driver, err error) {
	defer errs.Wrap(&err, "failed to load certificate chain")

	keyPEM, err := os.ReadFile(cfg.keyFile)
	if err != nil {
		return nil, err
	}
	key, err := keygen.ParseKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}

	certPEM, err := os.ReadFile(cfg.certFile)
	if err != nil {
		return nil, err
	}
	certDER, err := keygen.ParseCertPEM(certPEM)
	if err != nil {
		return nil, err
	}

	caPEM, err := os.ReadFile(cfg.caFile)
	if err != nil {
		return nil, err
	}
	caDER, err := keygen.ParseCertPEM(caPEM)
	if err != nil {
		return nil, err
	}

	return dev.New(key, certDER, dev.WithCABundle(caDER)), nil
}

func run(ctx context.Context, out io.Writer, args []string) (err error) {
	defer errs.Wrap(&err, "failed to run server")

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	cfg, err := parseFlags(out, args)
	if err != nil {
		return err
	}

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if !cfg.debug {
		log = log.Level(zerolog.InfoLevel)
	}

	drv, err := newDriver(cfg, log)
	if err != nil {
		return err
	}
	if closer, ok := drv.(interface{ Close() error }); ok {
		defer func() {
			if cerr := closer.Close(); cerr != nil {
				log.Err(cerr).Msg("failed to close driver")
			}
		}()
	}

	return server.Run(ctx, &server.Config{
		Addr:      cfg.addr,
		VSockPort: uint32(cfg.vsockPort),
		Log:       log,
	}, drv)
}

func main() {
	if err := run(context.Background(), os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to run server: %v\n", err)
		os.Exit(1)
	}
}
