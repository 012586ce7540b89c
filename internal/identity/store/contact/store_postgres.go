package contact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"reconciler/internal/identity/models"
	id "reconciler/pkg/domain"
	"reconciler/pkg/platform/sentinel"
	txcontext "reconciler/pkg/platform/tx"
)

const contactsTable = "contacts"

var contactColumns = []string{
	"id", "email", "phone_number", "linked_id", "link_precedence",
	"created_at", "updated_at", "deleted_at",
}

// PostgresStore persists contacts in PostgreSQL. Queries run on the
// transaction carried in context when there is one.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From[sqlx.Tx](ctx); ok {
		return tx
	}
	return s.db
}

type contactRow struct {
	ID             int64          `db:"id"`
	Email          sql.NullString `db:"email"`
	PhoneNumber    sql.NullString `db:"phone_number"`
	LinkedID       sql.NullInt64  `db:"linked_id"`
	LinkPrecedence string         `db:"link_precedence"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	DeletedAt      sql.NullTime   `db:"deleted_at"`
}

func (r contactRow) toModel() (*models.Contact, error) {
	role, err := models.ParseRole(r.LinkPrecedence)
	if err != nil {
		return nil, err
	}
	c := &models.Contact{
		ID:        id.ContactID(r.ID),
		Role:      role,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Email.Valid {
		c.Email = &r.Email.String
	}
	if r.PhoneNumber.Valid {
		c.PhoneNumber = &r.PhoneNumber.String
	}
	if r.LinkedID.Valid {
		linked := id.ContactID(r.LinkedID.Int64)
		c.LinkedID = &linked
	}
	if r.DeletedAt.Valid {
		c.DeletedAt = &r.DeletedAt.Time
	}
	return c, nil
}

func toModels(rows []contactRow) ([]*models.Contact, error) {
	out := make([]*models.Contact, 0, len(rows))
	for _, r := range rows {
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullID(v *id.ContactID) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v.Int64(), Valid: true}
}

func (s *PostgresStore) FindByIdentifiers(ctx context.Context, email, phone *string) ([]*models.Contact, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(contactColumns...)
	sb.From(contactsTable)

	var matchers []string
	if email != nil {
		matchers = append(matchers, sb.Equal("email", *email))
	}
	if phone != nil {
		matchers = append(matchers, sb.Equal("phone_number", *phone))
	}
	if len(matchers) == 0 {
		return nil, nil
	}
	sb.Where(sb.IsNull("deleted_at"), sb.Or(matchers...))
	sb.OrderBy("created_at ASC", "id ASC")

	query, args := sb.Build()
	var rows []contactRow
	if err := s.execer(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("find contacts by identifiers: %w", err)
	}
	return toModels(rows)
}

func (s *PostgresStore) FindByRootOrID(ctx context.Context, rootID id.ContactID) ([]*models.Contact, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(contactColumns...)
	sb.From(contactsTable)
	sb.Where(
		sb.IsNull("deleted_at"),
		sb.Or(sb.Equal("id", rootID.Int64()), sb.Equal("linked_id", rootID.Int64())),
	)
	sb.OrderBy("created_at ASC", "id ASC")

	query, args := sb.Build()
	var rows []contactRow
	if err := s.execer(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("find contacts by root: %w", err)
	}
	return toModels(rows)
}

func (s *PostgresStore) FindByID(ctx context.Context, contactID id.ContactID) (*models.Contact, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(contactColumns...)
	sb.From(contactsTable)
	sb.Where(sb.Equal("id", contactID.Int64()), sb.IsNull("deleted_at"))

	query, args := sb.Build()
	var row contactRow
	if err := s.execer(ctx).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find contact by id: %w", err)
	}
	return row.toModel()
}

func (s *PostgresStore) Create(ctx context.Context, nc models.NewContact) (*models.Contact, error) {
	// Unstamped rows take the insert statement's clock, not the transaction's.
	var createdAt any = sqlbuilder.Raw("clock_timestamp()")
	if !nc.CreatedAt.IsZero() {
		createdAt = nc.CreatedAt
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(contactsTable)
	ib.Cols("email", "phone_number", "linked_id", "link_precedence", "created_at", "updated_at")
	ib.Values(nullString(nc.Email), nullString(nc.PhoneNumber), nullID(nc.LinkedID), string(nc.Role), createdAt, createdAt)

	query, args := ib.Build()
	query += " RETURNING id, created_at, updated_at"

	var inserted struct {
		ID        int64     `db:"id"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	if err := s.execer(ctx).GetContext(ctx, &inserted, query, args...); err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	nc.CreatedAt = inserted.CreatedAt
	c := nc.Build(id.ContactID(inserted.ID))
	c.UpdatedAt = inserted.UpdatedAt
	return c, nil
}

func (s *PostgresStore) Update(ctx context.Context, contactID id.ContactID, update models.ContactUpdate) error {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(contactsTable)
	ub.Set(
		ub.Assign("linked_id", nullID(update.LinkedID)),
		ub.Assign("link_precedence", string(update.Role)),
		ub.Assign("updated_at", stamp(update.UpdatedAt)),
	)
	ub.Where(ub.Equal("id", contactID.Int64()), ub.IsNull("deleted_at"))

	query, args := ub.Build()
	res, err := s.execer(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) RewriteLinks(ctx context.Context, oldRootID, newRootID id.ContactID, now time.Time) (int64, error) {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(contactsTable)
	ub.Set(
		ub.Assign("linked_id", newRootID.Int64()),
		ub.Assign("updated_at", stamp(now)),
	)
	ub.Where(ub.Equal("linked_id", oldRootID.Int64()), ub.IsNull("deleted_at"))

	query, args := ub.Build()
	res, err := s.execer(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("rewrite contact links: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rewrite contact links: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) SoftDelete(ctx context.Context, contactID id.ContactID, now time.Time) error {
	now = stamp(now)
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(contactsTable)
	ub.Set(ub.Assign("deleted_at", now), ub.Assign("updated_at", now))
	ub.Where(ub.Equal("id", contactID.Int64()), ub.IsNull("deleted_at"))

	query, args := ub.Build()
	res, err := s.execer(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("soft delete contact: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
