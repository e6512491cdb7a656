package security

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const defaultCertDir = ".tskv/certs"

// GetCertDir returns the on-disk certificate directory for a given
// node role ("node", "cli") and node ID.
func GetCertDir(role, nodeID string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	if nodeID == "" {
		return filepath.Join(homeDir, defaultCertDir, role), nil
	}
	return filepath.Join(homeDir, defaultCertDir, fmt.Sprintf("%s-%s", role, nodeID)), nil
}

// CertExists reports whether a node certificate is already on disk at certDir.
func CertExists(certDir string) bool {
	_, err := os.Stat(filepath.Join(certDir, "node.crt"))
	return err == nil
}

// SaveCertToFile writes a leaf TLS certificate and its RSA key to certDir.
func SaveCertToFile(cert *tls.Certificate, certDir string) error {
	if err := os.MkdirAll(certDir, 0700); err != nil {
		return fmt.Errorf("create cert directory: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})
	if err := os.WriteFile(filepath.Join(certDir, "node.crt"), certPEM, 0600); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}

	privateKey, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("private key is not RSA")
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	if err := os.WriteFile(filepath.Join(certDir, "node.key"), keyPEM, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	return nil
}

// LoadCertFromFile loads a leaf certificate and key pair from certDir.
func LoadCertFromFile(certDir string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(filepath.Join(certDir, "node.crt"), filepath.Join(certDir, "node.key"))
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		cert.Leaf = leaf
	}
	return &cert, nil
}

// SaveCACertToFile writes the root CA certificate (DER-encoded) to certDir.
func SaveCACertToFile(caCert []byte, certDir string) error {
	if err := os.MkdirAll(certDir, 0700); err != nil {
		return fmt.Errorf("create cert directory: %w", err)
	}
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caCert})
	if err := os.WriteFile(filepath.Join(certDir, "ca.crt"), caPEM, 0644); err != nil {
		return fmt.Errorf("write CA certificate: %w", err)
	}
	return nil
}

// LoadCACertFromFile loads the root CA certificate from certDir.
func LoadCACertFromFile(certDir string) (*x509.Certificate, error) {
	data, err := os.ReadFile(filepath.Join(certDir, "ca.crt"))
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("decode CA certificate PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}
