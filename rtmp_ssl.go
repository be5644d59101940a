// RTMP SSL utils

package main

import (
	"crypto/tls"

	certloader "github.com/AgustinSRG/go-tls-certificate-loader"
)

// setupTLSConfig wraps the configured cert/key pair in a certloader so
// renewed certificates (e.g. from an ACME client) get picked up without a
// restart, and builds the tls.Config the secure listener is created with.
func setupTLSConfig(certFile string, keyFile string) (*tls.Config, error) {
	loader, err := certloader.NewTlsCertificateLoader(certloader.TlsCertificateLoaderConfig{
		CertificatePath: certFile,
		KeyPath:         keyFile,
	})

	if err != nil {
		return nil, err
	}

	return &tls.Config{
		GetCertificate: loader.GetCertificate,
	}, nil
}
