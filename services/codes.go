package services

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"

	"go.pilab.hu/docflow/domain"
)

const (
	confirmCodeBytes = 18
	secretBytes      = 32
)

// CodeGenerator produces the confirmation codes emailed to device owners.
type CodeGenerator interface {
	ConfirmationCode() (string, error)
}

// CredentialMinter issues OAuth credentials for a device that brought none.
type CredentialMinter interface {
	Mint() (*domain.OAuthCredentials, error)
}

// RandomCodes uses crypto/rand for codes and secrets and uuids for public identifiers.
type RandomCodes struct{}

func (RandomCodes) ConfirmationCode() (string, error) {
	return randomString(confirmCodeBytes)
}

func (RandomCodes) Mint() (*domain.OAuthCredentials, error) {
	consumerSecret, err := randomString(secretBytes)
	if err != nil {
		return nil, err
	}
	tokenSecret, err := randomString(secretBytes)
	if err != nil {
		return nil, err
	}
	return &domain.OAuthCredentials{
		ConsumerKey:    uuid.NewString(),
		ConsumerSecret: consumerSecret,
		Token:          uuid.NewString(),
		TokenSecret:    tokenSecret,
	}, nil
}

func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
