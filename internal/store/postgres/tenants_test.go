package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var credentialColumns = []string{"id", "tenant_id", "token", "contact_address", "is_active", "created_at"}

func TestActiveCredentials_SkipsUnreachable(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	ctx := context.Background()

	// The WHERE clause must filter out unreachable tenants.
	mock.ExpectQuery(`SELECT c.id, c.tenant_id, c.token, t.contact_address.* NOT t.is_unreachable`).
		WillReturnRows(sqlmock.NewRows(credentialColumns).
			AddRow(int64(1), int64(7), "token-a", int64(111222333), true, time.Now()).
			AddRow(int64(2), int64(9), "token-b", int64(444555666), true, time.Now()))

	creds, err := s.ActiveCredentials(ctx)
	if err != nil {
		t.Fatalf("ActiveCredentials failed: %v", err)
	}
	if len(creds) != 2 {
		t.Fatalf("expected 2 credentials, got %d", len(creds))
	}
	if creds[0].TenantID != 7 || creds[0].ContactAddress != 111222333 {
		t.Errorf("unexpected credential %+v", creds[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestActiveCredential_Found(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT c.id, c.tenant_id, c.token`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(credentialColumns).
			AddRow(int64(1), int64(7), "token-a", int64(111222333), true, time.Now()))

	cred, err := s.ActiveCredential(context.Background(), 7)
	if err != nil {
		t.Fatalf("ActiveCredential failed: %v", err)
	}
	if cred == nil || cred.Token != "token-a" {
		t.Errorf("unexpected credential %+v", cred)
	}
}

func TestActiveCredential_NoneIsNotAnError(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT c.id, c.tenant_id, c.token`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(credentialColumns))

	cred, err := s.ActiveCredential(context.Background(), 7)
	if err != nil {
		t.Fatalf("expected no error for missing credential, got %v", err)
	}
	if cred != nil {
		t.Errorf("expected nil credential, got %+v", cred)
	}
}

func TestDisableCredential(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`UPDATE credentials SET is_active = FALSE`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.DisableCredential(context.Background(), 7); err != nil {
		t.Fatalf("DisableCredential failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMarkUnreachable(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`UPDATE tenants SET is_unreachable = TRUE`).
		WithArgs(int64(111222333)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.MarkUnreachable(context.Background(), 111222333); err != nil {
		t.Fatalf("MarkUnreachable failed: %v", err)
	}
}

func TestActiveStaff(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT id, tenant_id, contact_address, full_name, is_active`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "contact_address", "full_name", "is_active"}).
			AddRow(int64(1), int64(7), int64(999888777), "Мария Иванова", true))

	staff, err := s.ActiveStaff(context.Background(), 7)
	if err != nil {
		t.Fatalf("ActiveStaff failed: %v", err)
	}
	if len(staff) != 1 || staff[0].ContactAddress != 999888777 {
		t.Errorf("unexpected staff %+v", staff)
	}
}
