package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"github.com/corpmeals/ordering/internal/db"
	"github.com/corpmeals/ordering/internal/repository"
	"github.com/corpmeals/ordering/internal/storage"
)

type CompanyRepo struct {
	db db.DB
}

func NewCompanyRepo(db db.DB) storage.CompanyRepository {
	return &CompanyRepo{db: db}
}

func (r *CompanyRepo) GetByID(ctx context.Context, id string) (*repository.Company, error) {
	var company repository.Company
	err := r.db.Get(ctx, &company, "SELECT id, name, shift, shift_budget, address FROM companies WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &company, nil
}
