package mailer

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/emersion/go-msgauth/dkim"
)

// Signer adds a DKIM-Signature header to outgoing messages. RSA and
// Ed25519 keys are supported.
type Signer struct {
	opts dkim.SignOptions
}

// NewSigner signs as selector._domainkey.domain with relaxed/relaxed
// canonicalization
func NewSigner(key crypto.Signer, domain, selector string) *Signer {
	return &Signer{opts: dkim.SignOptions{
		Domain:                 domain,
		Selector:               selector,
		Signer:                 key,
		Hash:                   crypto.SHA256,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
	}}
}

// NewSignerFromFile loads the signing key from a PEM file
func NewSignerFromFile(keyFile, domain, selector string) (*Signer, error) {
	key, err := LoadSigningKey(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load DKIM key: %w", err)
	}
	return NewSigner(key, domain, selector), nil
}

// Sign returns message with the signature header prepended
func (s *Signer) Sign(message []byte) ([]byte, error) {
	opts := s.opts
	var out bytes.Buffer
	if err := dkim.Sign(&out, bytes.NewReader(message), &opts); err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return out.Bytes(), nil
}

// Domain returns the signing domain
func (s *Signer) Domain() string {
	return s.opts.Domain
}

// LoadSigningKey reads a PKCS#1 RSA key or a PKCS#8 RSA/Ed25519 key
func LoadSigningKey(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in key file")
	}

	if block.Type == "RSA PRIVATE KEY" {
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}
	if block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	}
	return nil, fmt.Errorf("unsupported DKIM key algorithm %T", key)
}
