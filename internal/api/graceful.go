package api

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bookhealth/bookhealth/internal/config"
)

var tlsVersions = map[string]uint16{
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// buildHTTPServer returns the listener-side server for cfg. There is no
// write timeout: a streamed assessment stays open for the whole fetch.
// TLS material is loaded eagerly so a bad certificate fails startup.
func buildHTTPServer(cfg config.ServerConfig, handler http.Handler) (*http.Server, error) {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if !cfg.TLS.Enabled {
		return srv, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	minVersion, ok := tlsVersions[cfg.TLS.MinVersion]
	if !ok {
		minVersion = tls.VersionTLS13
	}
	srv.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
	}
	return srv, nil
}

// SetupSignalHandler returns a channel that receives SIGINT and SIGTERM.
func SetupSignalHandler() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch
}
