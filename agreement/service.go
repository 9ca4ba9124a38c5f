package agreement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"agreementvault/identity"
	"agreementvault/logging"
	"agreementvault/render"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Renderer produces the binary artifact for a composed version.
type Renderer interface {
	Render(doc render.Document, sig *render.SignatoryContext) (render.Result, error)
}

// ArtifactStore is the blob store surface the service depends on.
type ArtifactStore interface {
	Store(ctx context.Context, data []byte, filename, mediaType, ownerID string) (string, error)
	Fetch(ctx context.Context, blobID string) ([]byte, error)
}

// Hasher anchors and verifies content hashes over stored artifacts.
type Hasher interface {
	Hash(ctx context.Context, blobID string) (string, error)
	Verify(ctx context.Context, blobID, expectedHash string) bool
}

// SignatoryDirectory resolves signatory accounts for display-field snapshots.
type SignatoryDirectory interface {
	GetSignatory(ctx context.Context, signatoryID string) (*identity.Account, error)
}

// repositoryAPI is the data access surface the service needs; tests swap in
// fakes the same way the rest of the codebase fakes TxBeginner.
type repositoryAPI interface {
	InsertAgreement(ctx context.Context, q Querier, orgID, title, createdBy string) (Agreement, error)
	GetAgreement(ctx context.Context, q Querier, agreementID string) (Agreement, error)
	InsertVersion(ctx context.Context, tx pgx.Tx, agreementID string, pages []Page, fileName, fileBlobID *string) (Version, error)
	GetVersion(ctx context.Context, q Querier, versionID string) (Version, error)
	GetVersionForUpdate(ctx context.Context, tx pgx.Tx, versionID string) (Version, error)
	ListVersions(ctx context.Context, q Querier, agreementID string) ([]Version, error)
	UpdateDraftContent(ctx context.Context, tx pgx.Tx, versionID string, pages []Page, fileName, fileBlobID *string) (Version, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, versionID, publisherID string, effectiveDate *time.Time, blobID, contentHash string) (Version, error)
	MarkRetired(ctx context.Context, tx pgx.Tx, versionID string) (Version, error)
	UpdateBinary(ctx context.Context, tx pgx.Tx, versionID, blobID, contentHash string) (Version, error)
	InsertUserCopy(ctx context.Context, tx pgx.Tx, copy UserCopy) (UserCopy, error)
	GetUserCopy(ctx context.Context, q Querier, copyID string) (UserCopy, error)
	GetUserCopyByVersionSignatory(ctx context.Context, q Querier, versionID, signatoryID string) (UserCopy, error)
	InsertAcceptance(ctx context.Context, tx pgx.Tx, acc Acceptance) (Acceptance, error)
	GetAcceptance(ctx context.Context, q Querier, acceptanceID string) (Acceptance, error)
	ListAcceptancesBySignatory(ctx context.Context, q Querier, signatoryID string) ([]Acceptance, error)
	ListAcceptancesByAgreement(ctx context.Context, q Querier, agreementID string) ([]Acceptance, error)
	CountAcceptancesByAgreement(ctx context.Context, q Querier, agreementID string) (int, error)
	AppendEvent(ctx context.Context, tx pgx.Tx, agreementID string, versionID *string, eventType string, actorID *string, payload map[string]any) error
}

// Service implements the agreement lifecycle operations. Every mutating
// operation runs as one transactional unit of work; rendering and hashing
// happen inline within that unit.
type Service struct {
	pool        TxBeginner
	querier     Querier
	repo        repositoryAPI
	renderer    Renderer
	store       ArtifactStore
	hasher      Hasher
	signatories SignatoryDirectory
}

func NewService(pool TxBeginner, querier Querier, renderer Renderer, store ArtifactStore, hasher Hasher, signatories SignatoryDirectory) *Service {
	return &Service{
		pool:        pool,
		querier:     querier,
		repo:        NewRepository(),
		renderer:    renderer,
		store:       store,
		hasher:      hasher,
		signatories: signatories,
	}
}

// CreateAgreement creates a named container for versions. Titles are unique
// per organization.
func (s *Service) CreateAgreement(ctx context.Context, orgID, authorID, title string) (Agreement, error) {
	if orgID == "" || authorID == "" {
		return Agreement{}, fmt.Errorf("%w: organization and author are required", ErrValidation)
	}
	if title == "" {
		return Agreement{}, fmt.Errorf("%w: title is required", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := s.repo.InsertAgreement(ctx, tx, orgID, title, authorID)
	if err != nil {
		return Agreement{}, err
	}

	if err := s.repo.AppendEvent(ctx, tx, a.ID, nil, EventAgreementCreated, &authorID, map[string]any{
		"title": title,
	}); err != nil {
		return Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit: %w", err)
	}
	return a, nil
}

// VersionContent carries the editable content of a draft.
type VersionContent struct {
	Pages      []Page
	FileName   *string
	FileBlobID *string
}

// CreateNewVersion appends a new draft revision with the next version number.
func (s *Service) CreateNewVersion(ctx context.Context, agreementID, authorID string, content VersionContent) (Version, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Version{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := s.repo.InsertVersion(ctx, tx, agreementID, content.Pages, content.FileName, content.FileBlobID)
	if err != nil {
		return Version{}, err
	}

	if err := s.repo.AppendEvent(ctx, tx, agreementID, &v.ID, EventVersionCreated, &authorID, map[string]any{
		"version_no": v.VersionNumber,
	}); err != nil {
		return Version{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Version{}, fmt.Errorf("agreement: commit: %w", err)
	}
	return v, nil
}

// EditVersion replaces a draft's content. Non-draft versions reject the edit
// with ErrInvalidState.
func (s *Service) EditVersion(ctx context.Context, versionID string, content VersionContent) (Version, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Version{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := s.repo.GetVersionForUpdate(ctx, tx, versionID)
	if err != nil {
		return Version{}, err
	}
	if !v.IsEditable() {
		return Version{}, fmt.Errorf("%w: cannot edit %s version", ErrInvalidState, v.Status)
	}

	updated, err := s.repo.UpdateDraftContent(ctx, tx, versionID, content.Pages, content.FileName, content.FileBlobID)
	if err != nil {
		return Version{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Version{}, fmt.Errorf("agreement: commit: %w", err)
	}
	return updated, nil
}

// Publish transitions a draft to published: render the canonical binary,
// store it, anchor its hash, and stamp the publication fields, all or
// nothing.
func (s *Service) Publish(ctx context.Context, versionID, publisherID, orgID string, effectiveDate *time.Time) (Version, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Version{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := s.repo.GetVersionForUpdate(ctx, tx, versionID)
	if err != nil {
		return Version{}, err
	}
	a, err := s.repo.GetAgreement(ctx, tx, v.AgreementID)
	if err != nil {
		return Version{}, err
	}

	if a.OrganizationID != orgID {
		return Version{}, ErrPermissionDenied
	}
	if v.Status != StatusDraft {
		return Version{}, fmt.Errorf("%w: cannot publish %s version", ErrInvalidState, v.Status)
	}
	if !v.HasContent() {
		return Version{}, fmt.Errorf("%w: version has no content", ErrValidation)
	}

	v.EffectiveDate = effectiveDate
	result, err := s.renderer.Render(s.composeDocument(a, v), nil)
	if err != nil {
		return Version{}, err
	}

	blobID, err := s.store.Store(ctx, result.Data, result.Filename, result.MediaType, v.ID)
	if err != nil {
		return Version{}, fmt.Errorf("agreement: store canonical binary: %w", err)
	}
	hash, err := s.hasher.Hash(ctx, blobID)
	if err != nil {
		return Version{}, err
	}

	published, err := s.repo.MarkPublished(ctx, tx, versionID, publisherID, effectiveDate, blobID, hash)
	if err != nil {
		return Version{}, err
	}

	if err := s.repo.AppendEvent(ctx, tx, a.ID, &versionID, EventVersionPublished, &publisherID, map[string]any{
		"version_no":   published.VersionNumber,
		"blob_id":      blobID,
		"content_hash": hash,
	}); err != nil {
		return Version{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Version{}, fmt.Errorf("agreement: commit publish: %w", err)
	}

	logging.Info(ctx, "version published", "version_id", versionID, "version_no", published.VersionNumber, "hash", hash)
	return published, nil
}

// Retire transitions a published version to retired. Content and integrity
// fields stay untouched.
func (s *Service) Retire(ctx context.Context, versionID, actorID, orgID string) (Version, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Version{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := s.repo.GetVersionForUpdate(ctx, tx, versionID)
	if err != nil {
		return Version{}, err
	}
	a, err := s.repo.GetAgreement(ctx, tx, v.AgreementID)
	if err != nil {
		return Version{}, err
	}
	if a.OrganizationID != orgID {
		return Version{}, ErrPermissionDenied
	}
	if !v.Status.CanTransitionTo(StatusRetired) {
		return Version{}, fmt.Errorf("%w: cannot retire %s version", ErrInvalidState, v.Status)
	}

	retired, err := s.repo.MarkRetired(ctx, tx, versionID)
	if err != nil {
		return Version{}, err
	}

	if err := s.repo.AppendEvent(ctx, tx, a.ID, &versionID, EventVersionRetired, &actorID, map[string]any{
		"version_no": retired.VersionNumber,
	}); err != nil {
		return Version{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Version{}, fmt.Errorf("agreement: commit retire: %w", err)
	}
	return retired, nil
}

// RegenerateBinary re-renders and re-hashes a published version in place.
// This is the only operation that mutates a published version's integrity
// fields; it is recorded as a distinct audited event carrying both hashes.
func (s *Service) RegenerateBinary(ctx context.Context, versionID, actorID, orgID string) (Version, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Version{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := s.repo.GetVersionForUpdate(ctx, tx, versionID)
	if err != nil {
		return Version{}, err
	}
	a, err := s.repo.GetAgreement(ctx, tx, v.AgreementID)
	if err != nil {
		return Version{}, err
	}
	if a.OrganizationID != orgID {
		return Version{}, ErrPermissionDenied
	}
	if v.Status != StatusPublished {
		return Version{}, fmt.Errorf("%w: cannot regenerate binary of %s version", ErrInvalidState, v.Status)
	}

	oldBlobID, oldHash := deref(v.BlobID), deref(v.ContentHash)

	result, err := s.renderer.Render(s.composeDocument(a, v), nil)
	if err != nil {
		return Version{}, err
	}
	blobID, err := s.store.Store(ctx, result.Data, result.Filename, result.MediaType, v.ID)
	if err != nil {
		return Version{}, fmt.Errorf("agreement: store regenerated binary: %w", err)
	}
	hash, err := s.hasher.Hash(ctx, blobID)
	if err != nil {
		return Version{}, err
	}

	updated, err := s.repo.UpdateBinary(ctx, tx, versionID, blobID, hash)
	if err != nil {
		return Version{}, err
	}

	if err := s.repo.AppendEvent(ctx, tx, a.ID, &versionID, EventBinaryRegenerated, &actorID, map[string]any{
		"old_blob_id": oldBlobID,
		"new_blob_id": blobID,
		"old_hash":    oldHash,
		"new_hash":    hash,
		"version_no":  updated.VersionNumber,
	}); err != nil {
		return Version{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Version{}, fmt.Errorf("agreement: commit regenerate: %w", err)
	}

	logging.Info(ctx, "version binary regenerated", "version_id", versionID, "old_hash", oldHash, "new_hash", hash, "actor_id", actorID)
	return updated, nil
}

// CreateUserCopy produces the immutable signatory-specific rendition of a
// published version, with display fields snapshotted at call time. The
// database uniqueness constraint decides races; the loser gets
// ErrDuplicateCopy.
func (s *Service) CreateUserCopy(ctx context.Context, versionID, signatoryID string) (UserCopy, error) {
	sig, err := s.signatories.GetSignatory(ctx, signatoryID)
	if err != nil {
		if errors.Is(err, identity.ErrAccountNotFound) {
			return UserCopy{}, fmt.Errorf("%w: unknown signatory %s", ErrValidation, signatoryID)
		}
		return UserCopy{}, fmt.Errorf("agreement: resolve signatory: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return UserCopy{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := s.repo.GetVersion(ctx, tx, versionID)
	if err != nil {
		return UserCopy{}, err
	}
	if !v.IsAcceptable() {
		return UserCopy{}, fmt.Errorf("%w: version is %s, not published", ErrInvalidState, v.Status)
	}
	a, err := s.repo.GetAgreement(ctx, tx, v.AgreementID)
	if err != nil {
		return UserCopy{}, err
	}

	sigOrg := ""
	if sig.OrganizationID != nil {
		sigOrg = *sig.OrganizationID
	}
	sigCtx := &render.SignatoryContext{
		Name:         sig.FullName,
		Email:        sig.Email,
		Organization: sigOrg,
	}

	result, err := s.renderer.Render(s.composeDocument(a, v), sigCtx)
	if err != nil {
		return UserCopy{}, err
	}
	blobID, err := s.store.Store(ctx, result.Data, result.Filename, result.MediaType, versionID)
	if err != nil {
		return UserCopy{}, fmt.Errorf("agreement: store copy binary: %w", err)
	}
	hash, err := s.hasher.Hash(ctx, blobID)
	if err != nil {
		return UserCopy{}, err
	}

	uc, err := s.repo.InsertUserCopy(ctx, tx, UserCopy{
		VersionID:      versionID,
		SignatoryID:    signatoryID,
		SignatoryName:  sig.FullName,
		SignatoryEmail: sig.Email,
		SignatoryOrg:   sigOrg,
		BlobID:         blobID,
		ContentHash:    hash,
	})
	if err != nil {
		return UserCopy{}, err
	}

	if err := s.repo.AppendEvent(ctx, tx, a.ID, &versionID, EventUserCopyCreated, &signatoryID, map[string]any{
		"user_copy_id": uc.ID,
		"content_hash": hash,
	}); err != nil {
		return UserCopy{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return UserCopy{}, fmt.Errorf("agreement: commit copy: %w", err)
	}
	return uc, nil
}

// RecordAcceptance appends the acceptance ledger entry for a user copy. The
// origin address must already be resolved (ExtractClientMeta) and non-empty.
func (s *Service) RecordAcceptance(ctx context.Context, userCopyID, signatoryID string, meta ClientMeta, correlationID string) (Acceptance, error) {
	if meta.OriginAddress == "" {
		return Acceptance{}, fmt.Errorf("%w: origin address is required", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Acceptance{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	uc, err := s.repo.GetUserCopy(ctx, tx, userCopyID)
	if err != nil {
		return Acceptance{}, err
	}
	v, err := s.repo.GetVersion(ctx, tx, uc.VersionID)
	if err != nil {
		return Acceptance{}, err
	}
	if !v.IsAcceptable() {
		return Acceptance{}, fmt.Errorf("%w: version is %s, not published", ErrInvalidState, v.Status)
	}

	acc, err := s.repo.InsertAcceptance(ctx, tx, Acceptance{
		UserCopyID:    userCopyID,
		SignatoryID:   signatoryID,
		OriginAddress: meta.OriginAddress,
		UserAgent:     meta.UserAgent,
		CorrelationID: correlationID,
	})
	if err != nil {
		return Acceptance{}, err
	}

	if err := s.repo.AppendEvent(ctx, tx, v.AgreementID, &uc.VersionID, EventAcceptanceRecorded, &signatoryID, map[string]any{
		"user_copy_id":   userCopyID,
		"origin_address": meta.OriginAddress,
		"correlation_id": correlationID,
	}); err != nil {
		return Acceptance{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Acceptance{}, fmt.Errorf("agreement: commit acceptance: %w", err)
	}

	logging.Info(ctx, "acceptance recorded", "user_copy_id", userCopyID, "signatory_id", signatoryID, "origin", meta.OriginAddress, "correlation_id", correlationID)
	return acc, nil
}

// VerifyUserCopyHash re-hashes the copy's current artifact and compares it
// to the anchored hash. False means mismatch or missing data, never an error.
func (s *Service) VerifyUserCopyHash(ctx context.Context, userCopyID string) (bool, error) {
	uc, err := s.repo.GetUserCopy(ctx, s.querier, userCopyID)
	if err != nil {
		return false, err
	}
	return s.hasher.Verify(ctx, uc.BlobID, uc.ContentHash), nil
}

// VerifyVersionHash does the same for a version's canonical binary.
func (s *Service) VerifyVersionHash(ctx context.Context, versionID string) (bool, error) {
	v, err := s.repo.GetVersion(ctx, s.querier, versionID)
	if err != nil {
		return false, err
	}
	return s.hasher.Verify(ctx, deref(v.BlobID), deref(v.ContentHash)), nil
}

func (s *Service) GetAgreementByID(ctx context.Context, agreementID string) (Agreement, error) {
	return s.repo.GetAgreement(ctx, s.querier, agreementID)
}

func (s *Service) GetVersionByID(ctx context.Context, versionID string) (Version, error) {
	return s.repo.GetVersion(ctx, s.querier, versionID)
}

func (s *Service) ListVersions(ctx context.Context, agreementID string) ([]Version, error) {
	return s.repo.ListVersions(ctx, s.querier, agreementID)
}

func (s *Service) GetUserCopyByID(ctx context.Context, copyID string) (UserCopy, error) {
	return s.repo.GetUserCopy(ctx, s.querier, copyID)
}

func (s *Service) GetUserCopyFor(ctx context.Context, versionID, signatoryID string) (UserCopy, error) {
	return s.repo.GetUserCopyByVersionSignatory(ctx, s.querier, versionID, signatoryID)
}

// FetchVersionBinary returns the canonical PDF bytes of a version that has
// been published.
func (s *Service) FetchVersionBinary(ctx context.Context, versionID string) ([]byte, error) {
	v, err := s.repo.GetVersion(ctx, s.querier, versionID)
	if err != nil {
		return nil, err
	}
	if v.BlobID == nil || *v.BlobID == "" {
		return nil, fmt.Errorf("%w: version has no generated binary", ErrInvalidState)
	}
	return s.store.Fetch(ctx, *v.BlobID)
}

// FetchUserCopyBinary returns the personalized PDF bytes of a user copy.
func (s *Service) FetchUserCopyBinary(ctx context.Context, userCopyID string) ([]byte, error) {
	uc, err := s.repo.GetUserCopy(ctx, s.querier, userCopyID)
	if err != nil {
		return nil, err
	}
	return s.store.Fetch(ctx, uc.BlobID)
}

func (s *Service) GetAcceptanceByID(ctx context.Context, acceptanceID string) (Acceptance, error) {
	return s.repo.GetAcceptance(ctx, s.querier, acceptanceID)
}

func (s *Service) AcceptanceHistoryBySignatory(ctx context.Context, signatoryID string) ([]Acceptance, error) {
	return s.repo.ListAcceptancesBySignatory(ctx, s.querier, signatoryID)
}

// AcceptanceHistoryByAgreement returns the acceptances for an agreement,
// newest first, along with the total count.
func (s *Service) AcceptanceHistoryByAgreement(ctx context.Context, agreementID string) ([]Acceptance, int, error) {
	accs, err := s.repo.ListAcceptancesByAgreement(ctx, s.querier, agreementID)
	if err != nil {
		return nil, 0, err
	}
	n, err := s.repo.CountAcceptancesByAgreement(ctx, s.querier, agreementID)
	if err != nil {
		return nil, 0, err
	}
	return accs, n, nil
}

func (s *Service) composeDocument(a Agreement, v Version) render.Document {
	pages := make([]render.Page, 0, len(v.Pages))
	for _, p := range v.Pages {
		pages = append(pages, render.Page{Title: p.Title, Body: p.Body})
	}

	doc := render.Document{
		ID:            v.ID,
		Title:         a.Title,
		VersionNumber: v.VersionNumber,
		EffectiveDate: v.EffectiveDate,
		Pages:         pages,
	}
	if len(pages) == 0 && v.FileName != nil {
		doc.FileName = *v.FileName
	}
	return doc
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
