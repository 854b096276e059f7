package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	stdtls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeSelfSigned writes a throwaway cert/key pair and returns their paths.
func writeSelfSigned(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "posse-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "tls.crt")
	keyFile = filepath.Join(dir, "tls.key")

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o600))

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	return certFile, keyFile
}

func TestServerConfigLoadsKeyPair(t *testing.T) {
	certFile, keyFile := writeSelfSigned(t)
	cfg, err := ServerConfig(ServerOptions{CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	require.Equal(t, uint16(stdtls.VersionTLS13), cfg.MinVersion)
}

func TestServerConfigMinVersion(t *testing.T) {
	certFile, keyFile := writeSelfSigned(t)
	cfg, err := ServerConfig(ServerOptions{CertFile: certFile, KeyFile: keyFile, MinVersion: "1.2"})
	require.NoError(t, err)
	require.Equal(t, uint16(stdtls.VersionTLS12), cfg.MinVersion)

	_, err = ServerConfig(ServerOptions{CertFile: certFile, KeyFile: keyFile, MinVersion: "1.0"})
	require.Error(t, err)
}

func TestServerConfigRequiresBothFiles(t *testing.T) {
	certFile, _ := writeSelfSigned(t)
	_, err := ServerConfig(ServerOptions{CertFile: certFile})
	require.Error(t, err)
}

func TestServerConfigClientCA(t *testing.T) {
	certFile, keyFile := writeSelfSigned(t)
	cfg, err := ServerConfig(ServerOptions{
		CertFile: certFile, KeyFile: keyFile, ClientCAFile: certFile,
	})
	require.NoError(t, err)
	require.Equal(t, stdtls.RequireAndVerifyClientCert, cfg.ClientAuth)
	require.NotNil(t, cfg.ClientCAs)
}

func TestClientConfig(t *testing.T) {
	certFile, _ := writeSelfSigned(t)
	cfg, err := ClientConfig(certFile)
	require.NoError(t, err)
	require.NotNil(t, cfg.RootCAs)

	cfg, err = ClientConfig("")
	require.NoError(t, err)
	require.Nil(t, cfg.RootCAs)

	_, err = ClientConfig(filepath.Join(t.TempDir(), "missing.pem"))
	require.Error(t, err)
}

func TestEnabled(t *testing.T) {
	require.False(t, ServerOptions{}.Enabled())
	require.True(t, ServerOptions{CertFile: "a"}.Enabled())
	require.True(t, ServerOptions{KeyFile: "b"}.Enabled())
}
