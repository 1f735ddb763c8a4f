package vault

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/huntrelay/huntrelay/internal/secret"
)

// encryptJSON age-encrypts plaintext to recipientKeys and returns a
// base64-encoded ciphertext string suitable for storing alongside
// asset rows.
func encryptJSON(plaintext []byte, recipientKeys []string) (string, error) {
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return "", fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var out bytes.Buffer
	writer, err := age.Encrypt(&out, recipients...)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}

	return base64.StdEncoding.EncodeToString(out.Bytes()), nil
}

// decryptJSON decrypts a base64 ciphertext with identity (read once,
// not closed) and returns the plaintext in a locked secret.Buffer.
func decryptJSON(ciphertext string, identityKey *secret.Buffer) (*secret.Buffer, error) {
	identity, err := age.ParseX25519Identity(identityKey.String())
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding base64: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}

	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		return secret.New(1)
	}

	buf, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("protecting decrypted plaintext: %w", err)
	}
	return buf, nil
}
