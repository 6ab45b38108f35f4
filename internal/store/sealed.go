package store

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	sealMagic = "TANGLESEAL1"
	saltSize  = 16
	nonceSize = 24
	keySize   = 32

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// ErrSealBroken is returned when a sealed document cannot be opened, either
// because the passphrase is wrong or the data was altered.
var ErrSealBroken = errors.New("sealed document cannot be opened")

type sealed struct {
	inner      Store
	passphrase []byte
}

// Seal encrypts documents before they reach inner and decrypts them on load.
// Each save derives a fresh key with scrypt from passphrase and a random salt.
func Seal(inner Store, passphrase string) (Store, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is required")
	}
	return &sealed{inner: inner, passphrase: []byte(passphrase)}, nil
}

func (s *sealed) key(salt []byte) (*[keySize]byte, error) {
	derived, err := scrypt.Key(s.passphrase, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	var key [keySize]byte
	copy(key[:], derived)
	return &key, nil
}

func (s *sealed) Save(ctx context.Context, accountID string, doc []byte) error {
	var salt [saltSize]byte
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return persistErr("save", accountID, err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return persistErr("save", accountID, err)
	}
	key, err := s.key(salt[:])
	if err != nil {
		return persistErr("save", accountID, err)
	}

	out := make([]byte, 0, len(sealMagic)+saltSize+nonceSize+len(doc)+secretbox.Overhead)
	out = append(out, sealMagic...)
	out = append(out, salt[:]...)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, doc, &nonce, key)
	return s.inner.Save(ctx, accountID, out)
}

func (s *sealed) Load(ctx context.Context, accountID string) ([]byte, error) {
	data, err := s.inner.Load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, []byte(sealMagic)) || len(data) < len(sealMagic)+saltSize+nonceSize+secretbox.Overhead {
		return nil, persistErr("load", accountID, ErrSealBroken)
	}
	data = data[len(sealMagic):]

	salt := data[:saltSize]
	var nonce [nonceSize]byte
	copy(nonce[:], data[saltSize:saltSize+nonceSize])
	key, err := s.key(salt)
	if err != nil {
		return nil, persistErr("load", accountID, err)
	}

	doc, ok := secretbox.Open(nil, data[saltSize+nonceSize:], &nonce, key)
	if !ok {
		return nil, persistErr("load", accountID, ErrSealBroken)
	}
	return doc, nil
}
