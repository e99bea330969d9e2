package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"github.com/corpmeals/ordering/internal/db"
	"github.com/corpmeals/ordering/internal/repository"
	"github.com/corpmeals/ordering/internal/storage"
)

type CustomerRepo struct {
	db db.DB
}

func NewCustomerRepo(db db.DB) storage.CustomerRepository {
	return &CustomerRepo{db: db}
}

func (r *CustomerRepo) GetByEmail(ctx context.Context, email string) (*repository.Customer, error) {
	var customer repository.Customer
	err := r.db.Get(ctx, &customer,
		"SELECT id, name, email, password, role, company_id FROM customers WHERE email = $1", email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &customer, nil
}
