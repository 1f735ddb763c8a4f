// Package vault provides a reference implementation of the external
// secrets store spec.md §1 names as an out-of-scope collaborator: at
// rest, every SSH credential (password, private key, sudo password) is
// age-encrypted to an operator key; decrypted material is handed to
// callers inside secret.Buffer values. Put and Get pass the plaintext
// through a JSON encoding whose strings live on the ordinary Go heap
// until they are collected.
//
// Production deployments are expected to swap this for a real secrets
// manager; Store is a concrete type, held by the Session Runtime and
// the Gateway.
package vault

import (
	"encoding/json"
	"fmt"
	"sync"

	"filippo.io/age"

	"github.com/huntrelay/huntrelay/internal/ids"
	"github.com/huntrelay/huntrelay/internal/secret"
)

// AuthKind distinguishes how the SSH Connector should authenticate.
type AuthKind string

const (
	AuthPassword   AuthKind = "password"
	AuthPrivateKey AuthKind = "private_key"
)

// SudoPolicy records how a sudo password is obtained for steps marked
// requires_sudo (spec.md §3, §4.4). It is stored with the credential;
// the Hunt Scheduler and SSH Connector do not read it and send no sudo
// password.
type SudoPolicy string

const (
	SudoNone       SudoPolicy = "nopasswd"
	SudoReuseSSH   SudoPolicy = "reuse-ssh-password"
	SudoCustom     SudoPolicy = "custom-password"
)

// Credential is the decrypted view of an Asset's SSH credential. It is
// only ever constructed from a Buffer and should be discarded (Close)
// as soon as the SSH Connector has used it to dial.
type Credential struct {
	Kind         AuthKind
	Username     string
	Password     *secret.Buffer // set iff Kind == AuthPassword, or SudoPolicy == SudoReuseSSH
	PrivateKey   *secret.Buffer // PEM bytes, set iff Kind == AuthPrivateKey
	Passphrase   *secret.Buffer // optional, protects PrivateKey
	SudoPolicy   SudoPolicy
	SudoPassword *secret.Buffer // set iff SudoPolicy == SudoCustom
}

// Close releases every secret.Buffer held by the credential. Safe to
// call on a partially-populated Credential.
func (c *Credential) Close() {
	for _, buf := range []*secret.Buffer{c.Password, c.PrivateKey, c.Passphrase, c.SudoPassword} {
		if buf != nil {
			buf.Close()
		}
	}
}

// bundle is the on-disk/at-rest plaintext shape before it is sealed.
// Only ever exists transiently around an Encrypt/Decrypt call.
type bundle struct {
	Kind         AuthKind   `json:"kind"`
	Username     string     `json:"username"`
	Password     string     `json:"password,omitempty"`
	PrivateKey   string      `json:"private_key,omitempty"`
	Passphrase   string     `json:"passphrase,omitempty"`
	SudoPolicy   SudoPolicy `json:"sudo_policy"`
	SudoPassword string     `json:"sudo_password,omitempty"`
}

// Store holds age-encrypted credential bundles keyed by asset ID.
// Safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	sealed     map[ids.AssetID]string // base64 age ciphertext
	recipients []string
	identity   *secret.Buffer // operator age private key, held for process lifetime
}

// Open constructs a Store that seals new credentials to recipientKeys
// and can decrypt with operatorPrivateKey (an AGE-SECRET-KEY-1... string,
// moved immediately into a locked secret.Buffer).
func Open(recipientKeys []string, operatorPrivateKey string) (*Store, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("vault: at least one recipient key is required")
	}
	if _, err := age.ParseX25519Identity(operatorPrivateKey); err != nil {
		return nil, fmt.Errorf("vault: invalid operator private key: %w", err)
	}

	buf, err := secret.NewFromBytes([]byte(operatorPrivateKey))
	if err != nil {
		return nil, fmt.Errorf("vault: protecting operator key: %w", err)
	}

	return &Store{
		sealed:     make(map[ids.AssetID]string),
		recipients: recipientKeys,
		identity:   buf,
	}, nil
}

// Close releases the operator private key.
func (s *Store) Close() error {
	return s.identity.Close()
}

// Put seals cred and stores it for asset. The caller retains ownership
// of cred's buffers and must Close them itself.
func (s *Store) Put(assetID ids.AssetID, cred Credential) error {
	plain := bundle{
		Kind:       cred.Kind,
		Username:   cred.Username,
		SudoPolicy: cred.SudoPolicy,
	}
	if cred.Password != nil {
		plain.Password = cred.Password.String()
	}
	if cred.PrivateKey != nil {
		plain.PrivateKey = cred.PrivateKey.String()
	}
	if cred.Passphrase != nil {
		plain.Passphrase = cred.Passphrase.String()
	}
	if cred.SudoPassword != nil {
		plain.SudoPassword = cred.SudoPassword.String()
	}

	data, err := json.Marshal(plain)
	if err != nil {
		return fmt.Errorf("vault: marshalling credential: %w", err)
	}
	defer secret.Zero(data)

	ciphertext, err := encryptJSON(data, s.recipients)
	if err != nil {
		return fmt.Errorf("vault: sealing credential for asset %s: %w", assetID, err)
	}

	s.mu.Lock()
	s.sealed[assetID] = ciphertext
	s.mu.Unlock()
	return nil
}

// Get decrypts and returns the credential for asset. The returned
// Credential's buffers must be Closed by the caller once the SSH
// Connector has consumed them.
func (s *Store) Get(assetID ids.AssetID) (Credential, error) {
	s.mu.RLock()
	ciphertext, ok := s.sealed[assetID]
	s.mu.RUnlock()
	if !ok {
		return Credential{}, fmt.Errorf("vault: no credential sealed for asset %s", assetID)
	}

	plaintext, err := decryptJSON(ciphertext, s.identity)
	if err != nil {
		return Credential{}, fmt.Errorf("vault: unsealing credential for asset %s: %w", assetID, err)
	}
	defer plaintext.Close()

	var plain bundle
	if err := json.Unmarshal(plaintext.Bytes(), &plain); err != nil {
		return Credential{}, fmt.Errorf("vault: decoding credential for asset %s: %w", assetID, err)
	}

	cred := Credential{Kind: plain.Kind, Username: plain.Username, SudoPolicy: plain.SudoPolicy}
	if plain.Password != "" {
		cred.Password, err = secret.NewFromBytes([]byte(plain.Password))
		if err != nil {
			return Credential{}, err
		}
	}
	if plain.PrivateKey != "" {
		cred.PrivateKey, err = secret.NewFromBytes([]byte(plain.PrivateKey))
		if err != nil {
			cred.Close()
			return Credential{}, err
		}
	}
	if plain.Passphrase != "" {
		cred.Passphrase, err = secret.NewFromBytes([]byte(plain.Passphrase))
		if err != nil {
			cred.Close()
			return Credential{}, err
		}
	}
	if plain.SudoPassword != "" {
		cred.SudoPassword, err = secret.NewFromBytes([]byte(plain.SudoPassword))
		if err != nil {
			cred.Close()
			return Credential{}, err
		}
	}

	return cred, nil
}

// Delete removes a sealed credential. No-op if absent.
func (s *Store) Delete(assetID ids.AssetID) {
	s.mu.Lock()
	delete(s.sealed, assetID)
	s.mu.Unlock()
}
