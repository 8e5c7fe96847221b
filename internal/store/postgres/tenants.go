package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sellwatch/internal/store"
)

// ActiveCredentials returns one active credential per active tenant,
// joined with the tenant's contact address. Unreachable tenants are
// skipped: there is nobody to notify.
func (s *Store) ActiveCredentials(ctx context.Context) ([]store.Credential, error) {
	query := `
		SELECT c.id, c.tenant_id, c.token, t.contact_address, c.is_active, c.created_at
		FROM credentials c
		JOIN tenants t ON t.id = c.tenant_id
		WHERE c.is_active AND t.is_active AND NOT t.is_unreachable
		ORDER BY c.tenant_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active credentials: %w", err)
	}
	defer rows.Close()

	var creds []store.Credential
	for rows.Next() {
		var c store.Credential
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Token, &c.ContactAddress, &c.IsActive, &c.CreatedAt); err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}

	return creds, rows.Err()
}

// ActiveCredential returns the tenant's active credential, or nil if
// the tenant has none.
func (s *Store) ActiveCredential(ctx context.Context, tenantID int64) (*store.Credential, error) {
	query := `
		SELECT c.id, c.tenant_id, c.token, t.contact_address, c.is_active, c.created_at
		FROM credentials c
		JOIN tenants t ON t.id = c.tenant_id
		WHERE c.tenant_id = $1 AND c.is_active
		ORDER BY c.created_at DESC
		LIMIT 1
	`

	var c store.Credential
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&c.ID, &c.TenantID, &c.Token, &c.ContactAddress, &c.IsActive, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query credential for tenant %d: %w", tenantID, err)
	}

	return &c, nil
}

// DisableCredential deactivates all credentials of a tenant after the
// marketplace rejected the token.
func (s *Store) DisableCredential(ctx context.Context, tenantID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE credentials SET is_active = FALSE WHERE tenant_id = $1",
		tenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to disable credential for tenant %d: %w", tenantID, err)
	}
	return nil
}

// MarkUnreachable records that the chat contact refused delivery.
func (s *Store) MarkUnreachable(ctx context.Context, contactAddress int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE tenants SET is_unreachable = TRUE WHERE contact_address = $1",
		contactAddress,
	)
	if err != nil {
		return fmt.Errorf("failed to mark contact %d unreachable: %w", contactAddress, err)
	}
	return nil
}

// ActiveStaff returns the tenant's active delegated employees.
func (s *Store) ActiveStaff(ctx context.Context, tenantID int64) ([]store.Staff, error) {
	query := `
		SELECT id, tenant_id, contact_address, full_name, is_active
		FROM staff
		WHERE tenant_id = $1 AND is_active
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query staff for tenant %d: %w", tenantID, err)
	}
	defer rows.Close()

	var staff []store.Staff
	for rows.Next() {
		var st store.Staff
		if err := rows.Scan(&st.ID, &st.TenantID, &st.ContactAddress, &st.FullName, &st.IsActive); err != nil {
			return nil, err
		}
		staff = append(staff, st)
	}

	return staff, rows.Err()
}
