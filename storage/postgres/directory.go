package postgresstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/open-rails/accessgate/core"
	"github.com/open-rails/accessgate/roles"
)

// Directory is the Postgres account store. Accounts provisioned through
// SSO get a random password hashed at rest; the hash is never checked
// during SSO logins, it only exists so the row satisfies the same
// constraints as conventionally created accounts.
type Directory struct {
	pg *pgxpool.Pool
}

func NewDirectory(pg *pgxpool.Pool) *Directory {
	return &Directory{pg: pg}
}

// Schema returns the DDL for the accounts table. Exposed so the dev
// server can bootstrap an empty database.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS accounts (
    id            uuid PRIMARY KEY DEFAULT gen_random_uuid(),
    email         text NOT NULL UNIQUE,
    username      text NOT NULL UNIQUE,
    display_name  text NOT NULL DEFAULT '',
    password_hash text NOT NULL,
    role          text NOT NULL DEFAULT 'subscriber',
    role_id       uuid NOT NULL,
    sso_managed   boolean NOT NULL DEFAULT false,
    created_at    timestamptz NOT NULL DEFAULT now(),
    updated_at    timestamptz NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS accounts_email_lower_idx ON accounts (lower(email));
`
}

func (d *Directory) LookupByEmail(ctx context.Context, email string) (*core.Account, error) {
	var a core.Account
	err := d.pg.QueryRow(ctx, `
		SELECT id::text, email, username, display_name, role, sso_managed
		FROM accounts WHERE lower(email) = lower($1)`, email,
	).Scan(&a.ID, &a.Email, &a.Username, &a.DisplayName, &a.Role, &a.SSOManaged)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("account lookup: %w", err)
	}
	a.Elevated = roles.Elevated(a.Role)
	return &a, nil
}

func (d *Directory) Create(ctx context.Context, n core.NewAccount) (*core.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(n.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	a := core.Account{
		Email:       strings.ToLower(n.Email),
		DisplayName: n.DisplayName,
		Role:        n.Role,
		SSOManaged:  n.SSOManaged,
	}
	err = d.pg.QueryRow(ctx, `
		INSERT INTO accounts (email, username, display_name, password_hash, role, role_id, sso_managed)
		VALUES (lower($1), $2, $3, $4, $5, $6::uuid, $7)
		RETURNING id::text, username`,
		n.Email, n.Username, n.DisplayName, string(hash), n.Role, roles.IDFromSlug(n.Role).String(), n.SSOManaged,
	).Scan(&a.ID, &a.Username)
	if err != nil {
		return nil, fmt.Errorf("account insert: %w", err)
	}
	a.Elevated = roles.Elevated(a.Role)
	return &a, nil
}

func (d *Directory) MarkSSOManaged(ctx context.Context, accountID string) error {
	_, err := d.pg.Exec(ctx, `
		UPDATE accounts SET sso_managed = true, updated_at = now()
		WHERE id = $1::uuid AND NOT sso_managed`, accountID)
	if err != nil {
		return fmt.Errorf("mark sso managed: %w", err)
	}
	return nil
}
