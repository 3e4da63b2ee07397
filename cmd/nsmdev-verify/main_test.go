package main

import (
	"context"
	"flag"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amnesic-Systems/nsmdev/driver/dev"
	"github.com/Amnesic-Systems/nsmdev/internal/server"
	"github.com/Amnesic-Systems/nsmdev/keygen"
)

func TestHelp(t *testing.T) {
	_, err := parseFlags(io.Discard, []string{"-help"})
	require.ErrorIs(t, err, flag.ErrHelp)
}

func TestParseFlags(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{
			name:    "no flags",
			wantErr: true,
		},
		{
			name:    "missing root",
			args:    []string{"-addr", "http://localhost:8080"},
			wantErr: true,
		},
		{
			name: "required flags",
			args: []string{"-addr", "http://localhost:8080", "-root", "root.pem"},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := parseFlags(io.Discard, c.args)
			if c.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

// startSrv runs an attestation server backed by the given chain and returns
// its address.
func startSrv(t *testing.T, chain *keygen.CertChain) string {
	t.Helper()

	drv := dev.New(
		chain.End.Key,
		chain.End.DER,
		dev.WithCABundle(chain.Intermediate.DER),
	)
	srv := httptest.NewServer(server.NewRouter(&server.Config{Log: zerolog.Nop()}, drv))
	t.Cleanup(srv.Close)
	return srv.URL
}

// writeRootPEM writes the chain's root certificate to a temporary file and
// returns its path.
func writeRootPEM(t *testing.T, chain *keygen.CertChain) string {
	t.Helper()

	rootPEM, err := chain.Root.PEM()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "root.pem")
	require.NoError(t, os.WriteFile(path, rootPEM, 0644))
	return path
}

func TestAttestServer(t *testing.T) {
	chain, err := keygen.Generate(time.Minute * 10)
	require.NoError(t, err)
	addr := startSrv(t, chain)

	require.NoError(t, run(context.Background(), io.Discard, []string{
		"-addr", addr,
		"-root", writeRootPEM(t, chain),
	}))
}

func TestAttestServerWrongRoot(t *testing.T) {
	chain, err := keygen.Generate(time.Minute * 10)
	require.NoError(t, err)
	addr := startSrv(t, chain)

	// Anchor verification at an unrelated root.  The document must be
	// rejected.
	otherChain, err := keygen.Generate(time.Minute * 10)
	require.NoError(t, err)

	err = run(context.Background(), io.Discard, []string{
		"-addr", addr,
		"-root", writeRootPEM(t, otherChain),
	})
	require.ErrorIs(t, err, errFailedToAttest)
}
