package tls

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// CertificateOptions describes a certificate to generate.
type CertificateOptions struct {
	CommonName  string
	DNSNames    []string
	IPAddresses []net.IP
	ValidFor    time.Duration
	IsCA        bool
	ClientAuth  bool
	// ParentCert and ParentKey sign the certificate; it is self-signed without them.
	ParentCert *x509.Certificate
	ParentKey  crypto.Signer
}

// GenerateCertificate creates a certificate and its PKCS#8 key, both PEM encoded.
func GenerateCertificate(opts CertificateOptions) (certPEM, keyPEM []byte, err error) {
	if opts.ValidFor == 0 {
		opts.ValidFor = 365 * 24 * time.Hour
	}
	if opts.CommonName == "" {
		opts.CommonName = "localhost"
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: opts.CommonName, Organization: []string{"crdpctl"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(opts.ValidFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              opts.DNSNames,
		IPAddresses:           opts.IPAddresses,
	}

	switch {
	case opts.IsCA:
		template.IsCA = true
		template.KeyUsage |= x509.KeyUsageCertSign
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}
	case opts.ClientAuth:
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	case len(template.DNSNames) == 0 && len(template.IPAddresses) == 0:
		template.DNSNames = []string{"localhost"}
		template.IPAddresses = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	}

	parentCert := &template
	var parentKey crypto.Signer = privateKey
	if opts.ParentCert != nil && opts.ParentKey != nil {
		parentCert = opts.ParentCert
		parentKey = opts.ParentKey
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, parentCert, &privateKey.PublicKey, parentKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

// WriteCertificateFiles writes certificate and key to files
func WriteCertificateFiles(certPEM, keyPEM []byte, certFile, keyFile string) error {
	//nolint:gosec // Certificates are public
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write certificate file: %w", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// DevelopmentSet names the files written by GenerateDevelopmentSet.
type DevelopmentSet struct {
	CAFile     string
	ServerCert string
	ServerKey  string
	ClientCert string
	ClientKey  string
}

// Server returns the listener configuration: the server pair plus the CA for mTLS.
func (s DevelopmentSet) Server() Config {
	return Config{CAFile: s.CAFile, CertFile: s.ServerCert, KeyFile: s.ServerKey}
}

// Client returns the gateway client configuration matching Server.
func (s DevelopmentSet) Client() Config {
	return Config{CAFile: s.CAFile, CertFile: s.ClientCert, KeyFile: s.ClientKey}
}

// GenerateDevelopmentSet writes a CA, a localhost server certificate and a client
// certificate signed by it into dir.
func GenerateDevelopmentSet(dir string) (DevelopmentSet, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return DevelopmentSet{}, fmt.Errorf("failed to create certificate directory: %w", err)
	}

	set := DevelopmentSet{
		CAFile:     filepath.Join(dir, "ca.crt"),
		ServerCert: filepath.Join(dir, "server.crt"),
		ServerKey:  filepath.Join(dir, "server.key"),
		ClientCert: filepath.Join(dir, "client.crt"),
		ClientKey:  filepath.Join(dir, "client.key"),
	}

	caCertPEM, caKeyPEM, err := GenerateCertificate(CertificateOptions{
		CommonName: "crdpctl development CA",
		IsCA:       true,
		ValidFor:   10 * 365 * 24 * time.Hour,
	})
	if err != nil {
		return DevelopmentSet{}, fmt.Errorf("failed to generate CA certificate: %w", err)
	}
	if err := WriteCertificateFiles(caCertPEM, caKeyPEM, set.CAFile, filepath.Join(dir, "ca.key")); err != nil {
		return DevelopmentSet{}, err
	}

	caCert, caKey, err := parsePair(caCertPEM, caKeyPEM)
	if err != nil {
		return DevelopmentSet{}, err
	}

	leaves := []struct {
		opts      CertificateOptions
		cert, key string
	}{
		{CertificateOptions{CommonName: "localhost"}, set.ServerCert, set.ServerKey},
		{CertificateOptions{CommonName: "crdpctl client", ClientAuth: true}, set.ClientCert, set.ClientKey},
	}
	for _, leaf := range leaves {
		leaf.opts.ParentCert = caCert
		leaf.opts.ParentKey = caKey
		certPEM, keyPEM, err := GenerateCertificate(leaf.opts)
		if err != nil {
			return DevelopmentSet{}, fmt.Errorf("failed to generate %s certificate: %w", leaf.opts.CommonName, err)
		}
		if err := WriteCertificateFiles(certPEM, keyPEM, leaf.cert, leaf.key); err != nil {
			return DevelopmentSet{}, err
		}
	}

	return set, nil
}

func parsePair(certPEM, keyPEM []byte) (*x509.Certificate, crypto.Signer, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, fmt.Errorf("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("failed to decode key PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, nil, fmt.Errorf("key of type %T cannot sign", key)
	}
	return cert, signer, nil
}
