package test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"agreementvault/agreement"
	"agreementvault/blob"
	"agreementvault/identity"
	"agreementvault/integrity"
	"agreementvault/render"
	"agreementvault/test/infra"
)

var hexHashRE = regexp.MustCompile(`^[0-9a-f]{64}$`)

// TestAgreementLifecycle drives the full stack against a real PostgreSQL:
// author publishes a version, a signatory receives a personal copy and accepts
// it, duplicates lose, and regeneration re-anchors the hash.
func TestAgreementLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		if !dockerAvailable(ctx) {
			t.Skip("no TEST_PG_DSN and no Docker; skipping end-to-end scenario")
		}
		pgC, started, err := infra.StartPostgres16(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
		t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })
		dsn = started
	}

	pool, cleanup, err := infra.ApplyMigrations(ctx, dsn, true)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		_ = cleanup(context.Background())
	})

	store := blob.NewMemoryStore()
	hasher := integrity.NewHasher(store)
	identitySvc := identity.NewService(identity.NewRepository(pool), "scenario-secret", time.Hour)
	svc := agreement.NewService(pool, pool, render.NewRenderer(render.DefaultTokens()), store, hasher, identitySvc)

	author, err := identitySvc.Register(ctx, identity.RegisterRequest{
		Email:    fmt.Sprintf("author+%d@example.com", time.Now().UnixNano()),
		FullName: "Avery Author",
		Password: "authorpass",
		Role:     identity.RoleAuthor,
	})
	if err != nil {
		t.Fatalf("register author: %v", err)
	}
	signatory, err := identitySvc.Register(ctx, identity.RegisterRequest{
		Email:    fmt.Sprintf("signer+%d@example.com", time.Now().UnixNano()),
		FullName: "Sasha Signer",
		Password: "signerpass",
	})
	if err != nil {
		t.Fatalf("register signatory: %v", err)
	}

	orgID := author.ID // any UUID works as an organization marker

	a, err := svc.CreateAgreement(ctx, orgID, author.ID, "Scenario NDA")
	if err != nil {
		t.Fatalf("create agreement: %v", err)
	}

	v, err := svc.CreateNewVersion(ctx, a.ID, author.ID, agreement.VersionContent{
		Pages: []agreement.Page{
			{Title: "Terms", Body: "<p>You agree to {{SIGNATORY_NAME}}&rsquo;s terms<br></p><div>binding"},
			{Title: "Term", Body: "<p>One year from the effective date.</p>"},
		},
	})
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	if v.VersionNumber != 1 {
		t.Fatalf("expected first version number 1, got %d", v.VersionNumber)
	}

	published, err := svc.Publish(ctx, v.ID, author.ID, orgID, nil)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if published.ContentHash == nil || !hexHashRE.MatchString(*published.ContentHash) {
		t.Fatalf("expected 64-char lowercase hex hash, got %v", published.ContentHash)
	}
	data, err := svc.FetchVersionBinary(ctx, v.ID)
	if err != nil {
		t.Fatalf("fetch canonical binary: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("expected stored artifact to be a PDF")
	}
	if ok, err := svc.VerifyVersionHash(ctx, v.ID); err != nil || !ok {
		t.Fatalf("expected canonical hash to verify, ok=%v err=%v", ok, err)
	}

	uc, err := svc.CreateUserCopy(ctx, v.ID, signatory.ID)
	if err != nil {
		t.Fatalf("create user copy: %v", err)
	}
	if uc.SignatoryName != "Sasha Signer" {
		t.Errorf("expected snapshotted name, got %q", uc.SignatoryName)
	}
	if uc.ContentHash == *published.ContentHash {
		t.Errorf("expected personalized copy hash to differ from canonical hash")
	}
	if ok, err := svc.VerifyUserCopyHash(ctx, uc.ID); err != nil || !ok {
		t.Fatalf("expected copy hash to verify, ok=%v err=%v", ok, err)
	}
	copyPDF, err := svc.FetchUserCopyBinary(ctx, uc.ID)
	if err != nil {
		t.Fatalf("fetch copy binary: %v", err)
	}
	if !bytes.HasPrefix(copyPDF, []byte("%PDF-")) {
		t.Fatalf("expected personalized artifact to be a PDF")
	}

	if _, err := svc.CreateUserCopy(ctx, v.ID, signatory.ID); !errors.Is(err, agreement.ErrDuplicateCopy) {
		t.Fatalf("expected ErrDuplicateCopy on second copy, got %v", err)
	}

	meta := agreement.ClientMeta{OriginAddress: "203.0.113.9", UserAgent: "scenario-test"}
	acc, err := svc.RecordAcceptance(ctx, uc.ID, signatory.ID, meta, "corr-1")
	if err != nil {
		t.Fatalf("record acceptance: %v", err)
	}
	if acc.OriginAddress != "203.0.113.9" || acc.AcceptedAt.IsZero() {
		t.Errorf("expected forensic fields stamped, got %+v", acc)
	}
	stored, err := svc.GetAcceptanceByID(ctx, acc.ID)
	if err != nil {
		t.Fatalf("load acceptance: %v", err)
	}
	if stored.CorrelationID != "corr-1" || stored.UserAgent != "scenario-test" {
		t.Errorf("expected ledger row to carry forensic metadata, got %+v", stored)
	}
	if _, err := svc.RecordAcceptance(ctx, uc.ID, signatory.ID, meta, "corr-2"); !errors.Is(err, agreement.ErrDuplicateAcceptance) {
		t.Fatalf("expected ErrDuplicateAcceptance, got %v", err)
	}
	if _, err := svc.RecordAcceptance(ctx, uc.ID, signatory.ID, agreement.ClientMeta{}, "corr-3"); !errors.Is(err, agreement.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty origin, got %v", err)
	}

	history, total, err := svc.AcceptanceHistoryByAgreement(ctx, a.ID)
	if err != nil {
		t.Fatalf("acceptance history: %v", err)
	}
	if total != 1 || len(history) != 1 {
		t.Fatalf("expected exactly one acceptance, got %d", total)
	}

	t.Run("regeneration re-anchors the hash", func(t *testing.T) {
		oldHash, oldBlob := *published.ContentHash, *published.BlobID

		regenerated, err := svc.RegenerateBinary(ctx, v.ID, author.ID, orgID)
		if err != nil {
			t.Fatalf("regenerate: %v", err)
		}
		if *regenerated.ContentHash == oldHash {
			t.Errorf("expected regeneration to produce a new hash")
		}
		if *regenerated.BlobID == oldBlob {
			t.Errorf("expected regeneration to store a new artifact")
		}
		if hasher.Verify(ctx, *regenerated.BlobID, oldHash) {
			t.Errorf("expected old hash to fail against new artifact")
		}
		if ok, err := svc.VerifyVersionHash(ctx, v.ID); err != nil || !ok {
			t.Fatalf("expected new hash to verify, ok=%v err=%v", ok, err)
		}
		// The superseded artifact stays readable for audit.
		if _, err := store.Fetch(ctx, oldBlob); err != nil {
			t.Errorf("expected old artifact to remain fetchable: %v", err)
		}
	})

	t.Run("lifecycle is irreversible", func(t *testing.T) {
		if _, err := svc.EditVersion(ctx, v.ID, agreement.VersionContent{Pages: []agreement.Page{{Body: "x"}}}); !errors.Is(err, agreement.ErrInvalidState) {
			t.Fatalf("expected published version to reject edits, got %v", err)
		}

		retired, err := svc.Retire(ctx, v.ID, author.ID, orgID)
		if err != nil {
			t.Fatalf("retire: %v", err)
		}
		if retired.ContentHash == nil || retired.BlobID == nil {
			t.Errorf("expected retirement to keep integrity fields")
		}

		other, err := identitySvc.Register(ctx, identity.RegisterRequest{
			Email:    fmt.Sprintf("late+%d@example.com", time.Now().UnixNano()),
			FullName: "Late Larry",
			Password: "latelarry",
		})
		if err != nil {
			t.Fatalf("register late signatory: %v", err)
		}
		if _, err := svc.CreateUserCopy(ctx, v.ID, other.ID); !errors.Is(err, agreement.ErrInvalidState) {
			t.Fatalf("expected retired version to reject new copies, got %v", err)
		}
		if _, err := svc.Retire(ctx, v.ID, author.ID, orgID); !errors.Is(err, agreement.ErrInvalidState) {
			t.Fatalf("expected second retire to fail, got %v", err)
		}
	})
}

// TestConcurrentDuplicatesLoseCleanly hammers the copy generator and the
// acceptance ledger with racing requests for the same (version, signatory)
// pair; the uniqueness constraints must let exactly one through.
func TestConcurrentDuplicatesLoseCleanly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		if !dockerAvailable(ctx) {
			t.Skip("no TEST_PG_DSN and no Docker; skipping concurrency scenario")
		}
		pgC, started, err := infra.StartPostgres16(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
		t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })
		dsn = started
	}

	pool, cleanup, err := infra.ApplyMigrations(ctx, dsn, true)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		_ = cleanup(context.Background())
	})

	store := blob.NewMemoryStore()
	identitySvc := identity.NewService(identity.NewRepository(pool), "race-secret", time.Hour)
	svc := agreement.NewService(pool, pool, render.NewRenderer(nil), store, integrity.NewHasher(store), identitySvc)

	author, err := identitySvc.Register(ctx, identity.RegisterRequest{
		Email:    fmt.Sprintf("author+%d@example.com", time.Now().UnixNano()),
		FullName: "Avery Author",
		Password: "authorpass",
		Role:     identity.RoleAuthor,
	})
	if err != nil {
		t.Fatalf("register author: %v", err)
	}
	signatory, err := identitySvc.Register(ctx, identity.RegisterRequest{
		Email:    fmt.Sprintf("signer+%d@example.com", time.Now().UnixNano()),
		FullName: "Sasha Signer",
		Password: "signerpass",
	})
	if err != nil {
		t.Fatalf("register signatory: %v", err)
	}

	orgID := author.ID
	a, err := svc.CreateAgreement(ctx, orgID, author.ID, "Race NDA")
	if err != nil {
		t.Fatalf("create agreement: %v", err)
	}
	v, err := svc.CreateNewVersion(ctx, a.ID, author.ID, agreement.VersionContent{
		Pages: []agreement.Page{{Title: "Terms", Body: "<p>Race terms.</p>"}},
	})
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	if _, err := svc.Publish(ctx, v.ID, author.ID, orgID, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	const workers = 8

	var copySuccesses atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, err := svc.CreateUserCopy(gctx, v.ID, signatory.ID)
			switch {
			case err == nil:
				copySuccesses.Add(1)
				return nil
			case errors.Is(err, agreement.ErrDuplicateCopy):
				return nil
			default:
				return err
			}
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("racing copy creation: %v", err)
	}
	if n := copySuccesses.Load(); n != 1 {
		t.Fatalf("expected exactly one copy winner, got %d", n)
	}

	uc, err := svc.GetUserCopyFor(ctx, v.ID, signatory.ID)
	if err != nil {
		t.Fatalf("load surviving copy: %v", err)
	}

	var accSuccesses atomic.Int64
	g, gctx = errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			meta := agreement.ClientMeta{OriginAddress: "203.0.113.9", UserAgent: "race-test"}
			_, err := svc.RecordAcceptance(gctx, uc.ID, signatory.ID, meta, fmt.Sprintf("corr-%d", i))
			switch {
			case err == nil:
				accSuccesses.Add(1)
				return nil
			case errors.Is(err, agreement.ErrDuplicateAcceptance):
				return nil
			default:
				return err
			}
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("racing acceptance: %v", err)
	}
	if n := accSuccesses.Load(); n != 1 {
		t.Fatalf("expected exactly one acceptance winner, got %d", n)
	}

	history, err := svc.AcceptanceHistoryBySignatory(ctx, signatory.ID)
	if err != nil {
		t.Fatalf("acceptance history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one ledger row after the race, got %d", len(history))
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
