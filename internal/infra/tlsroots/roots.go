package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoCertsFound is returned when a PEM source holds no certificate.
var ErrNoCertsFound = errors.New("tlsroots: no certificates found")

// Load returns a pool of the certificates found at paths. A path is a PEM
// file or a directory whose .pem, .crt and .cer files are read. With system
// set the pool starts from the system roots.
func Load(system bool, paths ...string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if system {
		if sys, err := x509.SystemCertPool(); err == nil {
			pool = sys
		}
	}
	for _, path := range paths {
		fi, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("tlsroots: %w", err)
		}
		if fi.IsDir() {
			err = addDir(pool, path)
		} else {
			err = addFile(pool, path)
		}
		if err != nil {
			return nil, err
		}
	}
	return pool, nil
}

func addDir(pool *x509.CertPool, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("tlsroots: read dir %s: %w", dir, err)
	}
	added := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".pem", ".crt", ".cer":
		default:
			continue
		}
		if err := addFile(pool, filepath.Join(dir, entry.Name())); err != nil {
			if errors.Is(err, ErrNoCertsFound) {
				continue
			}
			return err
		}
		added++
	}
	if added == 0 {
		return fmt.Errorf("%w in %s", ErrNoCertsFound, dir)
	}
	return nil
}

func addFile(pool *x509.CertPool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read %s: %w", path, err)
	}
	n, err := addPEM(pool, data)
	if err != nil {
		return fmt.Errorf("tlsroots: %s: %w", path, err)
	}
	if n == 0 {
		return fmt.Errorf("%w in %s", ErrNoCertsFound, path)
	}
	return nil
}

// addPEM adds every CERTIFICATE block of data; other blocks are skipped.
func addPEM(pool *x509.CertPool, data []byte) (int, error) {
	n := 0
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return n, fmt.Errorf("parse certificate: %w", err)
		}
		pool.AddCert(cert)
		n++
	}
	return n, nil
}

// RequireClientCerts makes cfg demand a client certificate issued by one
// of clientCAs.
func RequireClientCerts(cfg *tls.Config, clientCAs *x509.CertPool) {
	cfg.ClientCAs = clientCAs
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
}

// ClientConfig returns the TLS configuration of an admin client. A
// non-empty caFile replaces the system roots; a certificate pair, when
// given, is presented to servers that ask for one.
func ClientConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile != "" {
		pool, err := Load(false, caFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	switch {
	case certFile != "" && keyFile != "":
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("tlsroots: load key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	case certFile != "" || keyFile != "":
		return nil, errors.New("tlsroots: client certificate and key must be given together")
	}
	return cfg, nil
}
