package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/corpmeals/ordering/internal/apperr"
	"github.com/corpmeals/ordering/internal/repository"
	"github.com/corpmeals/ordering/internal/storage"
)

var errBadCredentials = apperr.New(apperr.KindUnauthenticated, "invalid credentials")

type Authenticator struct {
	customers storage.CustomerRepository
}

func NewAuthenticator(customers storage.CustomerRepository) *Authenticator {
	return &Authenticator{customers: customers}
}

// Authenticate checks email and password against the stored bcrypt hash.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (*Actor, error) {
	customer, err := a.customers.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, errBadCredentials
		}
		return nil, fmt.Errorf("load customer: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(customer.PasswordHash), []byte(password)); err != nil {
		return nil, errBadCredentials
	}
	return NewActor(customer), nil
}

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
