package credentials

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"fund-terminal-bridge/internal/terminal"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// sealedFile is the on-disk format: per-account ciphertexts under a single
// scrypt-derived key. Each entry is sealed with XChaCha20-Poly1305 using
// the account id as additional data, so an entry cannot be swapped onto a
// different account undetected.
type sealedFile struct {
	KDF     sealedKDF              `json:"kdf"`
	Entries map[string]sealedEntry `json:"entries"`
}

type sealedKDF struct {
	Salt string `json:"salt"`
	N    int    `json:"n"`
	R    int    `json:"r"`
	P    int    `json:"p"`
}

type sealedEntry struct {
	Nonce string `json:"nonce"`
	Data  string `json:"data"`
}

type sealedPayload struct {
	Password string `json:"password"`
	Server   string `json:"server"`
}

// FileStore resolves logins from a sealed local file, for deployments
// without Vault. Ciphertexts stay in memory; plaintext exists only for the
// duration of a Resolve call's return value.
type FileStore struct {
	key     []byte
	entries map[int64]sealedEntry
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens a sealed file with the given passphrase.
func NewFileStore(path, passphrase string) (*FileStore, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("credentials passphrase is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading sealed file: %w", err)
	}

	var sf sealedFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("error parsing sealed file: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(sf.KDF.Salt)
	if err != nil {
		return nil, fmt.Errorf("invalid kdf salt: %w", err)
	}

	key, err := scrypt.Key([]byte(passphrase), salt, sf.KDF.N, sf.KDF.R, sf.KDF.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	entries := make(map[int64]sealedEntry, len(sf.Entries))
	for idStr, e := range sf.Entries {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid account id %q in sealed file", idStr)
		}
		entries[id] = e
	}

	return &FileStore{key: key, entries: entries}, nil
}

// Resolve unseals the account's login just-in-time.
func (s *FileStore) Resolve(_ context.Context, accountID int64) (terminal.Credentials, error) {
	entry, ok := s.entries[accountID]
	if !ok {
		return terminal.Credentials{}, ErrNotFound
	}

	nonce, err := base64.StdEncoding.DecodeString(entry.Nonce)
	if err != nil {
		return terminal.Credentials{}, fmt.Errorf("invalid nonce for account %d: %w", accountID, err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(entry.Data)
	if err != nil {
		return terminal.Credentials{}, fmt.Errorf("invalid ciphertext for account %d: %w", accountID, err)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return terminal.Credentials{}, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(strconv.FormatInt(accountID, 10)))
	if err != nil {
		return terminal.Credentials{}, fmt.Errorf("failed to unseal login for account %d: %w", accountID, err)
	}

	var payload sealedPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return terminal.Credentials{}, fmt.Errorf("corrupt login payload for account %d: %w", accountID, err)
	}

	return terminal.Credentials{Password: payload.Password, Server: payload.Server}, nil
}

// Seal writes a sealed file containing the given logins. Used by
// provisioning tooling and tests.
func Seal(path, passphrase string, secrets map[int64]terminal.Credentials) error {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}

	kdf := sealedKDF{Salt: base64.StdEncoding.EncodeToString(salt), N: 1 << 15, R: 8, P: 1}

	key, err := scrypt.Key([]byte(passphrase), salt, kdf.N, kdf.R, kdf.P, chacha20poly1305.KeySize)
	if err != nil {
		return fmt.Errorf("key derivation failed: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return err
	}

	sf := sealedFile{KDF: kdf, Entries: make(map[string]sealedEntry, len(secrets))}
	for id, creds := range secrets {
		plaintext, err := json.Marshal(sealedPayload{Password: creds.Password, Server: creds.Server})
		if err != nil {
			return err
		}

		nonce := make([]byte, chacha20poly1305.NonceSizeX)
		if _, err := rand.Read(nonce); err != nil {
			return err
		}

		ciphertext := aead.Seal(nil, nonce, plaintext, []byte(strconv.FormatInt(id, 10)))
		sf.Entries[strconv.FormatInt(id, 10)] = sealedEntry{
			Nonce: base64.StdEncoding.EncodeToString(nonce),
			Data:  base64.StdEncoding.EncodeToString(ciphertext),
		}
	}

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
