package agreement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx so repository
// methods run inside or outside a transaction as the caller decides.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const versionColumns = `id, agreement_id, version_no, status, pages, file_name, file_blob_id,
       effective_date, published_by, published_at, blob_id, content_hash, created_at, updated_at`

// InsertAgreement creates the agreement container. A duplicate (org, title)
// surfaces as ErrValidation.
func (r *Repository) InsertAgreement(ctx context.Context, q Querier, orgID, title, createdBy string) (Agreement, error) {
	const insertSQL = `
INSERT INTO agreements (organization_id, title, created_by)
VALUES ($1, $2, $3)
RETURNING id, organization_id, title, created_by, created_at, updated_at
`
	var a Agreement
	err := q.QueryRow(ctx, insertSQL, orgID, title, createdBy).
		Scan(&a.ID, &a.OrganizationID, &a.Title, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Agreement{}, fmt.Errorf("%w: title %q already exists in organization", ErrValidation, title)
		}
		return Agreement{}, fmt.Errorf("agreement: insert agreement: %w", err)
	}
	return a, nil
}

func (r *Repository) GetAgreement(ctx context.Context, q Querier, agreementID string) (Agreement, error) {
	const selectSQL = `
SELECT id, organization_id, title, created_by, created_at, updated_at
FROM agreements
WHERE id = $1
`
	var a Agreement
	err := q.QueryRow(ctx, selectSQL, agreementID).
		Scan(&a.ID, &a.OrganizationID, &a.Title, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrAgreementNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: get agreement: %w", err)
	}
	return a, nil
}

// InsertVersion assigns the next version number under a row lock on the
// owning agreement, so concurrent creations cannot collide or leave gaps.
func (r *Repository) InsertVersion(ctx context.Context, tx pgx.Tx, agreementID string, pages []Page, fileName, fileBlobID *string) (Version, error) {
	var lockedID string
	if err := tx.QueryRow(ctx, `SELECT id FROM agreements WHERE id = $1 FOR UPDATE`, agreementID).Scan(&lockedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Version{}, ErrAgreementNotFound
		}
		return Version{}, fmt.Errorf("agreement: lock agreement: %w", err)
	}

	var nextNo int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version_no), 0) + 1 FROM agreement_versions WHERE agreement_id = $1`, agreementID).Scan(&nextNo); err != nil {
		return Version{}, fmt.Errorf("agreement: next version number: %w", err)
	}

	pagesJSON, err := marshalPages(pages)
	if err != nil {
		return Version{}, err
	}

	insertSQL := fmt.Sprintf(`
INSERT INTO agreement_versions (agreement_id, version_no, pages, file_name, file_blob_id)
VALUES ($1, $2, $3::jsonb, $4, $5)
RETURNING %s
`, versionColumns)

	return scanVersion(tx.QueryRow(ctx, insertSQL, agreementID, nextNo, pagesJSON, fileName, fileBlobID))
}

func (r *Repository) GetVersion(ctx context.Context, q Querier, versionID string) (Version, error) {
	selectSQL := fmt.Sprintf(`SELECT %s FROM agreement_versions WHERE id = $1`, versionColumns)
	return scanVersion(q.QueryRow(ctx, selectSQL, versionID))
}

// GetVersionForUpdate loads the version under a row lock; lifecycle writers
// use it so state checks and the subsequent update are one unit.
func (r *Repository) GetVersionForUpdate(ctx context.Context, tx pgx.Tx, versionID string) (Version, error) {
	selectSQL := fmt.Sprintf(`SELECT %s FROM agreement_versions WHERE id = $1 FOR UPDATE`, versionColumns)
	return scanVersion(tx.QueryRow(ctx, selectSQL, versionID))
}

func (r *Repository) ListVersions(ctx context.Context, q Querier, agreementID string) ([]Version, error) {
	selectSQL := fmt.Sprintf(`SELECT %s FROM agreement_versions WHERE agreement_id = $1 ORDER BY version_no`, versionColumns)
	rows, err := q.Query(ctx, selectSQL, agreementID)
	if err != nil {
		return nil, fmt.Errorf("agreement: list versions: %w", err)
	}
	defer rows.Close()

	versions := []Version{}
	for rows.Next() {
		v, err := scanVersionRow(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// UpdateDraftContent replaces the page content and file reference of a draft.
func (r *Repository) UpdateDraftContent(ctx context.Context, tx pgx.Tx, versionID string, pages []Page, fileName, fileBlobID *string) (Version, error) {
	pagesJSON, err := marshalPages(pages)
	if err != nil {
		return Version{}, err
	}

	updateSQL := fmt.Sprintf(`
UPDATE agreement_versions
SET pages = $1::jsonb,
    file_name = $2,
    file_blob_id = $3,
    updated_at = now()
WHERE id = $4
RETURNING %s
`, versionColumns)

	return scanVersion(tx.QueryRow(ctx, updateSQL, pagesJSON, fileName, fileBlobID, versionID))
}

// MarkPublished stamps the publisher, timestamps, binary reference, and hash
// together with the status flip.
func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, versionID, publisherID string, effectiveDate *time.Time, blobID, contentHash string) (Version, error) {
	updateSQL := fmt.Sprintf(`
UPDATE agreement_versions
SET status = 'published',
    published_by = $1,
    published_at = now(),
    effective_date = $2,
    blob_id = $3,
    content_hash = $4,
    updated_at = now()
WHERE id = $5
RETURNING %s
`, versionColumns)

	return scanVersion(tx.QueryRow(ctx, updateSQL, publisherID, effectiveDate, blobID, contentHash, versionID))
}

func (r *Repository) MarkRetired(ctx context.Context, tx pgx.Tx, versionID string) (Version, error) {
	updateSQL := fmt.Sprintf(`
UPDATE agreement_versions
SET status = 'retired',
    updated_at = now()
WHERE id = $1
RETURNING %s
`, versionColumns)

	return scanVersion(tx.QueryRow(ctx, updateSQL, versionID))
}

// UpdateBinary repoints the binary reference and hash of a published
// version. Only the audited regeneration path calls this.
func (r *Repository) UpdateBinary(ctx context.Context, tx pgx.Tx, versionID, blobID, contentHash string) (Version, error) {
	updateSQL := fmt.Sprintf(`
UPDATE agreement_versions
SET blob_id = $1,
    content_hash = $2,
    updated_at = now()
WHERE id = $3
RETURNING %s
`, versionColumns)

	return scanVersion(tx.QueryRow(ctx, updateSQL, blobID, contentHash, versionID))
}

// InsertUserCopy persists a signatory-bound rendition. The UNIQUE
// (version_id, signatory_id) constraint is the arbiter under concurrency;
// its violation surfaces as ErrDuplicateCopy.
func (r *Repository) InsertUserCopy(ctx context.Context, tx pgx.Tx, copy UserCopy) (UserCopy, error) {
	const insertSQL = `
INSERT INTO agreement_user_copies (version_id, signatory_id, signatory_name, signatory_email, signatory_org, blob_id, content_hash)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, version_id, signatory_id, signatory_name, signatory_email, signatory_org, blob_id, content_hash, created_at
`
	var out UserCopy
	err := tx.QueryRow(ctx, insertSQL,
		copy.VersionID, copy.SignatoryID, copy.SignatoryName, copy.SignatoryEmail, copy.SignatoryOrg, copy.BlobID, copy.ContentHash,
	).Scan(&out.ID, &out.VersionID, &out.SignatoryID, &out.SignatoryName, &out.SignatoryEmail, &out.SignatoryOrg, &out.BlobID, &out.ContentHash, &out.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return UserCopy{}, ErrDuplicateCopy
		}
		return UserCopy{}, fmt.Errorf("agreement: insert user copy: %w", err)
	}
	return out, nil
}

func (r *Repository) GetUserCopy(ctx context.Context, q Querier, copyID string) (UserCopy, error) {
	const selectSQL = `
SELECT id, version_id, signatory_id, signatory_name, signatory_email, signatory_org, blob_id, content_hash, created_at
FROM agreement_user_copies
WHERE id = $1
`
	var c UserCopy
	err := q.QueryRow(ctx, selectSQL, copyID).
		Scan(&c.ID, &c.VersionID, &c.SignatoryID, &c.SignatoryName, &c.SignatoryEmail, &c.SignatoryOrg, &c.BlobID, &c.ContentHash, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserCopy{}, ErrCopyNotFound
		}
		return UserCopy{}, fmt.Errorf("agreement: get user copy: %w", err)
	}
	return c, nil
}

func (r *Repository) GetUserCopyByVersionSignatory(ctx context.Context, q Querier, versionID, signatoryID string) (UserCopy, error) {
	const selectSQL = `
SELECT id, version_id, signatory_id, signatory_name, signatory_email, signatory_org, blob_id, content_hash, created_at
FROM agreement_user_copies
WHERE version_id = $1 AND signatory_id = $2
`
	var c UserCopy
	err := q.QueryRow(ctx, selectSQL, versionID, signatoryID).
		Scan(&c.ID, &c.VersionID, &c.SignatoryID, &c.SignatoryName, &c.SignatoryEmail, &c.SignatoryOrg, &c.BlobID, &c.ContentHash, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserCopy{}, ErrCopyNotFound
		}
		return UserCopy{}, fmt.Errorf("agreement: get user copy by version and signatory: %w", err)
	}
	return c, nil
}

// InsertAcceptance appends a ledger row. The UNIQUE (user_copy_id,
// signatory_id) constraint surfaces as ErrDuplicateAcceptance.
func (r *Repository) InsertAcceptance(ctx context.Context, tx pgx.Tx, acc Acceptance) (Acceptance, error) {
	const insertSQL = `
INSERT INTO agreement_acceptances (user_copy_id, signatory_id, origin_address, user_agent, correlation_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, user_copy_id, signatory_id, origin_address, user_agent, correlation_id, accepted_at
`
	var out Acceptance
	err := tx.QueryRow(ctx, insertSQL,
		acc.UserCopyID, acc.SignatoryID, acc.OriginAddress, acc.UserAgent, acc.CorrelationID,
	).Scan(&out.ID, &out.UserCopyID, &out.SignatoryID, &out.OriginAddress, &out.UserAgent, &out.CorrelationID, &out.AcceptedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Acceptance{}, ErrDuplicateAcceptance
		}
		return Acceptance{}, fmt.Errorf("agreement: insert acceptance: %w", err)
	}
	return out, nil
}

func (r *Repository) GetAcceptance(ctx context.Context, q Querier, acceptanceID string) (Acceptance, error) {
	const selectSQL = `
SELECT id, user_copy_id, signatory_id, origin_address, user_agent, correlation_id, accepted_at
FROM agreement_acceptances
WHERE id = $1
`
	var a Acceptance
	err := q.QueryRow(ctx, selectSQL, acceptanceID).
		Scan(&a.ID, &a.UserCopyID, &a.SignatoryID, &a.OriginAddress, &a.UserAgent, &a.CorrelationID, &a.AcceptedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Acceptance{}, ErrAcceptanceNotFound
		}
		return Acceptance{}, fmt.Errorf("agreement: get acceptance: %w", err)
	}
	return a, nil
}

func (r *Repository) ListAcceptancesBySignatory(ctx context.Context, q Querier, signatoryID string) ([]Acceptance, error) {
	const selectSQL = `
SELECT id, user_copy_id, signatory_id, origin_address, user_agent, correlation_id, accepted_at
FROM agreement_acceptances
WHERE signatory_id = $1
ORDER BY accepted_at DESC
`
	return r.listAcceptances(ctx, q, selectSQL, signatoryID)
}

func (r *Repository) ListAcceptancesByAgreement(ctx context.Context, q Querier, agreementID string) ([]Acceptance, error) {
	const selectSQL = `
SELECT a.id, a.user_copy_id, a.signatory_id, a.origin_address, a.user_agent, a.correlation_id, a.accepted_at
FROM agreement_acceptances a
JOIN agreement_user_copies c ON c.id = a.user_copy_id
JOIN agreement_versions v ON v.id = c.version_id
WHERE v.agreement_id = $1
ORDER BY a.accepted_at DESC
`
	return r.listAcceptances(ctx, q, selectSQL, agreementID)
}

func (r *Repository) CountAcceptancesByAgreement(ctx context.Context, q Querier, agreementID string) (int, error) {
	const countSQL = `
SELECT COUNT(*)
FROM agreement_acceptances a
JOIN agreement_user_copies c ON c.id = a.user_copy_id
JOIN agreement_versions v ON v.id = c.version_id
WHERE v.agreement_id = $1
`
	var n int
	if err := q.QueryRow(ctx, countSQL, agreementID).Scan(&n); err != nil {
		return 0, fmt.Errorf("agreement: count acceptances: %w", err)
	}
	return n, nil
}

func (r *Repository) listAcceptances(ctx context.Context, q Querier, sql string, arg any) ([]Acceptance, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("agreement: list acceptances: %w", err)
	}
	defer rows.Close()

	accs := []Acceptance{}
	for rows.Next() {
		var a Acceptance
		if err := rows.Scan(&a.ID, &a.UserCopyID, &a.SignatoryID, &a.OriginAddress, &a.UserAgent, &a.CorrelationID, &a.AcceptedAt); err != nil {
			return nil, fmt.Errorf("agreement: scan acceptance: %w", err)
		}
		accs = append(accs, a)
	}
	return accs, rows.Err()
}

// AppendEvent writes an audit row inside the caller's transaction.
func (r *Repository) AppendEvent(ctx context.Context, tx pgx.Tx, agreementID string, versionID *string, eventType string, actorID *string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("agreement: marshal event payload: %w", err)
	}

	const insertSQL = `
INSERT INTO agreement_events (agreement_id, version_id, type, actor_id, payload)
VALUES ($1, $2, $3, $4, $5::jsonb)
`
	if _, err := tx.Exec(ctx, insertSQL, agreementID, versionID, eventType, actorID, body); err != nil {
		return fmt.Errorf("agreement: insert event: %w", err)
	}
	return nil
}

func marshalPages(pages []Page) ([]byte, error) {
	if pages == nil {
		pages = []Page{}
	}
	b, err := json.Marshal(pages)
	if err != nil {
		return nil, fmt.Errorf("agreement: marshal pages: %w", err)
	}
	return b, nil
}

func scanVersion(row pgx.Row) (Version, error) {
	v, err := scanVersionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Version{}, ErrVersionNotFound
		}
		return Version{}, err
	}
	return v, nil
}

func scanVersionRow(row pgx.Row) (Version, error) {
	var (
		v         Version
		pagesJSON []byte
	)
	err := row.Scan(
		&v.ID,
		&v.AgreementID,
		&v.VersionNumber,
		&v.Status,
		&pagesJSON,
		&v.FileName,
		&v.FileBlobID,
		&v.EffectiveDate,
		&v.PublishedBy,
		&v.PublishedAt,
		&v.BlobID,
		&v.ContentHash,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return Version{}, err
	}

	if len(pagesJSON) > 0 {
		if err := json.Unmarshal(pagesJSON, &v.Pages); err != nil {
			return Version{}, fmt.Errorf("agreement: unmarshal pages: %w", err)
		}
	}
	return v, nil
}
