// Package signing answers whether an owner can sign outbound deliveries.
package signing

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"fedifeed/relay/internal/models"
)

// KeyCheck reports whether an owner holds a usable signing credential.
type KeyCheck struct{}

// HasSigningCredential is true when owner's private key PEM parses.
func (KeyCheck) HasSigningCredential(owner models.Owner) bool {
	if !owner.PrivateKeyPEM.Valid {
		return false
	}
	_, err := ParsePrivateKey([]byte(owner.PrivateKeyPEM.String))
	return err == nil
}

// ParsePrivateKey decodes a PKCS#8 or PKCS#1 private key.
func ParsePrivateKey(data []byte) (any, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("unsupported private key: %w", err)
	}
	return key, nil
}

// LoadKeyFile reads a PEM file and validates it as a private key.
func LoadKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read key file: %w", err)
	}
	if _, err := ParsePrivateKey(data); err != nil {
		return "", fmt.Errorf("key file %s: %w", path, err)
	}
	return string(data), nil
}

// PublicKeyPEM derives the PKIX public key PEM from a private key PEM.
func PublicKeyPEM(privatePEM string) (string, error) {
	key, err := ParsePrivateKey([]byte(privatePEM))
	if err != nil {
		return "", err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return "", fmt.Errorf("private key of type %T cannot sign", key)
	}
	der, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
