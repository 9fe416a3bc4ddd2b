package httpserver

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yndnr/dtnmesh-go/internal/infra/confloader"
)

// certReloader serves the current certificate pair and swaps it when the
// files change. A pair that fails to load leaves the previous one in place.
type certReloader struct {
	certFile string
	keyFile  string
	logger   *slog.Logger
	watcher  *confloader.Watcher

	mu   sync.RWMutex
	cert *tls.Certificate
}

func newCertReloader(certFile, keyFile string, logger *slog.Logger) (*certReloader, error) {
	c := &certReloader{certFile: certFile, keyFile: keyFile, logger: logger}
	if err := c.reload(); err != nil {
		return nil, err
	}
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("watch tls files: %w", err)
	}
	for _, path := range []string{certFile, keyFile} {
		if err := w.Watch(path); err != nil {
			w.Stop()
			return nil, fmt.Errorf("watch %s: %w", path, err)
		}
	}
	w.OnChange(func(string) {
		if err := c.reload(); err != nil {
			c.logger.Error("tls certificate reload failed", "error", err)
			return
		}
		c.logger.Info("tls certificate reloaded", "cert_file", c.certFile)
	})
	w.StartAsync()
	c.watcher = w
	return c, nil
}

func (c *certReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(c.certFile, c.keyFile)
	if err != nil {
		return fmt.Errorf("load tls key pair: %w", err)
	}
	c.mu.Lock()
	c.cert = &cert
	c.mu.Unlock()
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (c *certReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cert, nil
}

func (c *certReloader) Close() error {
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Stop()
}
