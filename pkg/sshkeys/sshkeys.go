// Package sshkeys generates and caches the SSH keypairs C9 and the
// SSH/container/serverless providers need to bootstrap a host: an RSA-4096
// client keypair (used to authenticate the manager to every host) and an
// Ed25519 host keypair (installed on each host so it presents a stable
// identity). Ported from the behavior of
// original_source/libs/mngr/imbue/mngr/providers/ssh_utils.py
// (load_or_create_*_keypair), supplementing §4.11's "configure SSH keys"
// step with where the keys actually come from.
package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"

	"muster/internal/store"
)

const clientKeyBits = 4096

// Keypair is a private/public key pair in the formats the SSH bootstrap
// steps need: PEM for the private key, authorized_keys-line format for the
// public key.
type Keypair struct {
	PrivateKeyPEM string
	PublicKeyLine string
}

// LoadOrCreateClientKeypair returns the cached RSA-4096 client keypair
// under <keyDir>/client_id_rsa{,.pub}, generating and persisting one on
// first use. Every host gets the same client public key in its
// authorized_keys so one manager process can reach every host it created.
func LoadOrCreateClientKeypair(keyDir string) (Keypair, error) {
	return loadOrCreateKeypair(keyDir, "client_id_rsa", generateRSAKeypair)
}

// LoadOrCreateHostKeypair returns the cached Ed25519 host keypair under
// <keyDir>/host_ed25519{,.pub}. Every host created by this manager
// instance shares one host key by default so the client's known_hosts
// entry doesn't change across rebuilds; providers that want a distinct key
// per host should pass a per-host keyDir instead of the shared one.
func LoadOrCreateHostKeypair(keyDir string) (Keypair, error) {
	return loadOrCreateKeypair(keyDir, "host_ed25519", generateEd25519Keypair)
}

func loadOrCreateKeypair(keyDir, baseName string, generate func() (Keypair, error)) (Keypair, error) {
	privPath := filepath.Join(keyDir, baseName)
	pubPath := filepath.Join(keyDir, baseName+".pub")

	if store.Exists(privPath) && store.Exists(pubPath) {
		priv, err := os.ReadFile(privPath)
		if err != nil {
			return Keypair{}, err
		}
		pub, err := os.ReadFile(pubPath)
		if err != nil {
			return Keypair{}, err
		}
		return Keypair{PrivateKeyPEM: string(priv), PublicKeyLine: string(pub)}, nil
	}

	kp, err := generate()
	if err != nil {
		return Keypair{}, err
	}
	if err := store.WriteFileAtomic(privPath, []byte(kp.PrivateKeyPEM), 0o600); err != nil {
		return Keypair{}, err
	}
	if err := store.WriteFileAtomic(pubPath, []byte(kp.PublicKeyLine), 0o644); err != nil {
		return Keypair{}, err
	}
	return kp, nil
}

func generateRSAKeypair() (Keypair, error) {
	key, err := rsa.GenerateKey(rand.Reader, clientKeyBits)
	if err != nil {
		return Keypair{}, fmt.Errorf("generate rsa key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{
		PrivateKeyPEM: string(privPEM),
		PublicKeyLine: string(ssh.MarshalAuthorizedKey(pub)),
	}, nil
}

func generateEd25519Keypair() (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("generate ed25519 key: %w", err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return Keypair{}, err
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{
		PrivateKeyPEM: string(privPEM),
		PublicKeyLine: string(ssh.MarshalAuthorizedKey(sshPub)),
	}, nil
}

// ParsePrivateKey parses a PEM-encoded private key (RSA or Ed25519, as
// produced by this package) into an ssh.Signer.
func ParsePrivateKey(pemData string) (ssh.Signer, error) {
	return ssh.ParsePrivateKey([]byte(pemData))
}

// PrivateKeyAuthMethod reads and parses a private key file at path into an
// ssh.AuthMethod, for bootstrap connections that use an operator-supplied
// admin key rather than one cached by this package.
func PrivateKeyAuthMethod(path string) (ssh.AuthMethod, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}
	return ssh.PublicKeys(signer), nil
}

// AppendKnownHosts appends entry to <keyDir>/known_hosts under an advisory
// lock, so concurrent host bootstraps don't interleave partial lines.
func AppendKnownHosts(keyDir, entry string) error {
	if err := os.MkdirAll(keyDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(keyDir, "known_hosts")
	lock, err := store.AcquireHostLock(keyDir, 0)
	if err != nil {
		return err
	}
	defer lock.Close()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(entry + "\n")
	return err
}
