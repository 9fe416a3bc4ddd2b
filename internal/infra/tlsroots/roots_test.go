package tlsroots

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testCA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	pem  []byte
}

func newCA(t *testing.T, cn string) *testCA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return &testCA{cert: cert, key: key, pem: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})}
}

// issue writes a client certificate signed by ca.
func (ca *testCA) issue(t *testing.T, dir, cn string) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	certFile = filepath.Join(dir, cn+".crt")
	keyFile = filepath.Join(dir, cn+".key")
	writeFile(t, certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	writeFile(t, keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	return certFile, keyFile
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	ca1, ca2 := newCA(t, "ca-one"), newCA(t, "ca-two")
	bundle := append(append([]byte{}, ca1.pem...), ca2.pem...)
	writeFile(t, filepath.Join(dir, "bundle.pem"), bundle)
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("not a cert"))
	writeFile(t, filepath.Join(dir, "key.pem"), pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: []byte{1}}))

	pool, err := Load(false, filepath.Join(dir, "bundle.pem"))
	if err != nil {
		t.Fatalf("Load(file) error = %v", err)
	}
	for _, ca := range []*testCA{ca1, ca2} {
		if _, err := ca.cert.Verify(x509.VerifyOptions{Roots: pool}); err != nil {
			t.Errorf("%s not trusted: %v", ca.cert.Subject.CommonName, err)
		}
	}

	if _, err := Load(false, dir); err != nil {
		t.Errorf("Load(dir) error = %v", err)
	}

	empty := t.TempDir()
	if _, err := Load(false, empty); !errors.Is(err, ErrNoCertsFound) {
		t.Errorf("Load(empty dir) error = %v, want ErrNoCertsFound", err)
	}
	if _, err := Load(false, filepath.Join(dir, "key.pem")); !errors.Is(err, ErrNoCertsFound) {
		t.Errorf("Load(key only) error = %v, want ErrNoCertsFound", err)
	}
	if _, err := Load(false, filepath.Join(dir, "absent.pem")); err == nil {
		t.Error("Load(missing) should fail")
	}

	broken := filepath.Join(dir, "broken.crt")
	writeFile(t, broken, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("junk")}))
	if _, err := Load(false, broken); err == nil {
		t.Error("Load(corrupt) should fail")
	}
}

func TestClientConfig(t *testing.T) {
	dir := t.TempDir()
	ca := newCA(t, "admin-ca")
	caFile := filepath.Join(dir, "ca.pem")
	writeFile(t, caFile, ca.pem)
	certFile, keyFile := ca.issue(t, dir, "operator")

	cfg, err := ClientConfig(caFile, certFile, keyFile)
	if err != nil {
		t.Fatalf("ClientConfig() error = %v", err)
	}
	if cfg.RootCAs == nil || len(cfg.Certificates) != 1 {
		t.Errorf("config = roots %v, %d certs", cfg.RootCAs != nil, len(cfg.Certificates))
	}

	cfg, err = ClientConfig("", "", "")
	if err != nil || cfg.RootCAs != nil || len(cfg.Certificates) != 0 {
		t.Errorf("empty ClientConfig() = %+v, %v", cfg, err)
	}
	if _, err := ClientConfig("", certFile, ""); err == nil {
		t.Error("certificate without key should fail")
	}
}

func TestRequireClientCerts(t *testing.T) {
	ca := newCA(t, "admin-ca")
	pool, err := Load(false)
	if err != nil {
		t.Fatal(err)
	}
	pool.AddCert(ca.cert)

	cfg := &tls.Config{}
	RequireClientCerts(cfg, pool)
	if cfg.ClientAuth != tls.RequireAndVerifyClientCert || cfg.ClientCAs != pool {
		t.Errorf("config = %v", cfg.ClientAuth)
	}
}
