package main

import (
	"bytes"
	"crypto/x509"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
			name: "defaults",
		},
		{
			name: "der with directory",
			args: []string{"-format", "der", "-dir", "/tmp"},
		},
		{
			name:    "invalid format",
			args:    []string{"-format", "foo"},
			wantErr: true,
		},
		{
			name:    "der without directory",
			args:    []string{"-format", "der"},
			wantErr: true,
		},
		{
			name:    "non-positive days",
			args:    []string{"-days", "0"},
			wantErr: true,
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

func TestWriteStdout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, run(&buf, []string{"-days", "1"}))

	// The output must contain three certificates followed by the signing
	// key.
	out := buf.String()
	assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte("BEGIN CERTIFICATE")))
	assert.Contains(t, out, "BEGIN PRIVATE KEY")
}

func TestWriteDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, run(io.Discard, []string{"-days", "1", "-dir", dir}))

	// The end certificate and its key must parse and belong together.
	certPEM, err := os.ReadFile(filepath.Join(dir, "end-certificate.pem"))
	require.NoError(t, err)
	der, err := keygen.ParseCertPEM(certPEM)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	keyPEM, err := os.ReadFile(filepath.Join(dir, "end-signing-key.pem"))
	require.NoError(t, err)
	key, err := keygen.ParseKeyPEM(keyPEM)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(cert.PublicKey))

	for _, name := range []string{"root-certificate.pem", "int-certificate.pem"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err)
	}
}

func TestWriteDirDER(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, run(io.Discard, []string{
		"-days", "1", "-format", "der", "-dir", dir,
	}))

	der, err := os.ReadFile(filepath.Join(dir, "root-certificate.der"))
	require.NoError(t, err)
	_, err = x509.ParseCertificate(der)
	assert.NoError(t, err)
}
