package library

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	nonceSize = 24
	keySize   = 32
	saltSize  = 16
)

var ErrUnseal = errors.New("session: cannot unseal stored token")

// sealer encrypts small secrets (the session token) before they touch disk.
type sealer struct {
	key [keySize]byte
}

func newSealer(passphrase string, salt []byte) (*sealer, error) {
	k, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	s := &sealer{}
	copy(s.key[:], k)
	return s, nil
}

func (s *sealer) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

func (s *sealer) open(box []byte) ([]byte, error) {
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, ErrUnseal
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrUnseal
	}
	return plain, nil
}

func randomSalt() ([]byte, error) {
	b := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}
