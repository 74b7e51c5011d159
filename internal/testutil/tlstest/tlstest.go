// Package tlstest issues throwaway certificates for loopback TLS tests.
package tlstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Files names the PEM files Loopback writes.
type Files struct {
	CA         string
	ServerCert string
	ServerKey  string
	ClientCert string
	ClientKey  string
}

type issuer struct {
	t    testing.TB
	dir  string
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// Loopback writes a CA, a server certificate for localhost and 127.0.0.1,
// and a client certificate into dir.
func Loopback(t testing.TB, dir string) Files {
	t.Helper()
	ca := &issuer{t: t, dir: dir}
	caTemplate := &x509.Certificate{
		Subject:               pkix.Name{CommonName: "vcsrpc-test-ca"},
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}
	var f Files
	f.CA, _ = ca.issue("ca", caTemplate)

	f.ServerCert, f.ServerKey = ca.issue("server", &x509.Certificate{
		Subject:     pkix.Name{CommonName: "vcsrpcd"},
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	})
	f.ClientCert, f.ClientKey = ca.issue("client", &x509.Certificate{
		Subject:     pkix.Name{CommonName: "vcsrpc"},
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	return f
}

// issue signs template with the issuer's key, or self-signs it when the
// issuer has no certificate yet, and returns the cert and key paths.
func (i *issuer) issue(name string, template *x509.Certificate) (string, string) {
	i.t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		i.t.Fatalf("generate %s key: %v", name, err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		i.t.Fatalf("serial: %v", err)
	}
	now := time.Now()
	template.SerialNumber = serial
	template.NotBefore = now.Add(-time.Hour)
	template.NotAfter = now.Add(24 * time.Hour)

	parent, signer := template, key
	if i.cert != nil {
		parent, signer = i.cert, i.key
	}
	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, signer)
	if err != nil {
		i.t.Fatalf("create %s cert: %v", name, err)
	}
	if i.cert == nil {
		if i.cert, err = x509.ParseCertificate(der); err != nil {
			i.t.Fatalf("parse %s cert: %v", name, err)
		}
		i.key = key
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		i.t.Fatalf("marshal %s key: %v", name, err)
	}
	certPath := filepath.Join(i.dir, name+".crt")
	keyPath := filepath.Join(i.dir, name+".key")
	i.write(certPath, "CERTIFICATE", der, 0o644)
	i.write(keyPath, "EC PRIVATE KEY", keyDER, 0o600)
	return certPath, keyPath
}

func (i *issuer) write(path, blockType string, der []byte, perm os.FileMode) {
	i.t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, perm); err != nil {
		i.t.Fatalf("write %s: %v", path, err)
	}
}
