package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrAccountNotFound signals that the account does not exist.
	ErrAccountNotFound = errors.New("identity: account not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("identity: email already exists")
)

// Repository handles data access for accounts.
type Repository interface {
	CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	GetAccountByID(ctx context.Context, accountID string) (Account, error)
}

// CreateAccountParams contains write parameters for creating accounts.
type CreateAccountParams struct {
	Email          string
	FullName       string
	PasswordHash   string
	OrganizationID *string
	Role           Role
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed identity repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateAccount inserts a new account with a hashed password.
func (r *PGRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	const insertSQL = `
		INSERT INTO accounts (email, full_name, password_hash, organization_id, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, email, full_name, password_hash, organization_id, role, created_at, updated_at
	`

	account, err := scanAccount(r.pool.QueryRow(ctx, insertSQL,
		params.Email, params.FullName, params.PasswordHash, params.OrganizationID, params.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, ErrDuplicateEmail
		}
		return Account{}, fmt.Errorf("identity: create account: %w", err)
	}

	return account, nil
}

// GetAccountByEmail retrieves an account by email address.
func (r *PGRepository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	const selectSQL = `
		SELECT id, email, full_name, password_hash, organization_id, role, created_at, updated_at
		FROM accounts
		WHERE email = $1
	`

	account, err := scanAccount(r.pool.QueryRow(ctx, selectSQL, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("identity: get account by email: %w", err)
	}

	return account, nil
}

// GetAccountByID retrieves an account by ID.
func (r *PGRepository) GetAccountByID(ctx context.Context, accountID string) (Account, error) {
	const selectSQL = `
		SELECT id, email, full_name, password_hash, organization_id, role, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`

	account, err := scanAccount(r.pool.QueryRow(ctx, selectSQL, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("identity: get account by id: %w", err)
	}

	return account, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		account Account
		orgID   *string
	)
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.FullName,
		&account.PasswordHash,
		&orgID,
		&account.Role,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return Account{}, err
	}

	account.OrganizationID = orgID
	return account, nil
}
