package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"github.com/corpmeals/ordering/internal/apperr"
	"github.com/corpmeals/ordering/internal/repository"
	mock_storage "github.com/corpmeals/ordering/internal/storage/mocks"
)

func TestActorCapabilities(t *testing.T) {
	customer := NewActor(&repository.Customer{ID: "u1", Role: "customer"})
	admin := NewActor(&repository.Customer{ID: "u2", Role: "ADMIN"})
	unknown := NewActor(&repository.Customer{ID: "u3", Role: "vendor"})

	assert.True(t, customer.Can(CapPlaceOrder))
	assert.False(t, customer.Can(CapCancelAnyOrder))
	assert.True(t, admin.Can(CapCancelAnyOrder))
	assert.False(t, unknown.Can(CapPlaceOrder))

	assert.NoError(t, customer.Require(CapCancelOwnOrder))
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(unknown.Require(CapPlaceOrder)))

	var nobody *Actor
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(nobody.Require(CapPlaceOrder)))
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	actor := NewActor(&repository.Customer{ID: "u1", Role: "CUSTOMER"})
	got, ok := FromContext(WithActor(context.Background(), actor))
	require.True(t, ok)
	assert.Same(t, actor, got)
}

func TestAuthenticator_Authenticate(t *testing.T) {
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	stored := &repository.Customer{ID: "u1", Email: "ann@corp.io", PasswordHash: string(hash), Role: "CUSTOMER", CompanyID: "c1"}

	tests := []struct {
		name       string
		password   string
		setupMocks func(repo *mock_storage.MockCustomerRepository)
		wantKind   apperr.Kind
		wantErr    bool
	}{
		{
			name:     "valid credentials",
			password: "secret",
			setupMocks: func(repo *mock_storage.MockCustomerRepository) {
				repo.EXPECT().GetByEmail(ctx, "ann@corp.io").Return(stored, nil)
			},
		},
		{
			name:     "wrong password",
			password: "guess",
			setupMocks: func(repo *mock_storage.MockCustomerRepository) {
				repo.EXPECT().GetByEmail(ctx, "ann@corp.io").Return(stored, nil)
			},
			wantErr:  true,
			wantKind: apperr.KindUnauthenticated,
		},
		{
			name:     "unknown email",
			password: "secret",
			setupMocks: func(repo *mock_storage.MockCustomerRepository) {
				repo.EXPECT().GetByEmail(ctx, "ann@corp.io").Return(nil, repository.ErrObjectNotFound)
			},
			wantErr:  true,
			wantKind: apperr.KindUnauthenticated,
		},
		{
			name:     "storage failure",
			password: "secret",
			setupMocks: func(repo *mock_storage.MockCustomerRepository) {
				repo.EXPECT().GetByEmail(ctx, "ann@corp.io").Return(nil, errors.New("database error"))
			},
			wantErr:  true,
			wantKind: apperr.KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			repo := mock_storage.NewMockCustomerRepository(ctrl)
			tt.setupMocks(repo)

			actor, err := NewAuthenticator(repo).Authenticate(ctx, "ann@corp.io", tt.password)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
				assert.Nil(t, actor)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u1", actor.ID)
			assert.Equal(t, "c1", actor.CompanyID)
			assert.True(t, actor.Can(CapPlaceOrder))
		})
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("secret")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")))
}
