package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rifqiyafik/E-signApp/internal/audit"
	"github.com/rifqiyafik/E-signApp/internal/notifications"
	"github.com/rifqiyafik/E-signApp/internal/pki"
	"github.com/rifqiyafik/E-signApp/pkg/security"
	"github.com/rifqiyafik/E-signApp/pkg/storage"
	"github.com/rifqiyafik/E-signApp/pkg/workflows"
)

var pdfMagic = []byte("%PDF-")

// Service drives the document signing workflow: draft intake, signer
// assignment, sequential signing with version chaining, cancellation and
// the signer inbox.
type Service struct {
	repo     Store
	users    UserDirectory
	storage  storage.Client
	stamper  Stamper
	certs    *pki.Service
	rootCA   *pki.RootCAService
	tsa      *pki.TSAService
	notifier notifications.Notifier
	audit    audit.Logger
	machine  *workflows.StateMachine
	baseURL  string
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(
	repo Store,
	users UserDirectory,
	store storage.Client,
	stamper Stamper,
	certs *pki.Service,
	rootCA *pki.RootCAService,
	tsa *pki.TSAService,
	notifier notifications.Notifier,
	auditor audit.Logger,
	baseURL string,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:     repo,
		users:    users,
		storage:  store,
		stamper:  stamper,
		certs:    certs,
		rootCA:   rootCA,
		tsa:      tsa,
		notifier: notifier,
		audit:    auditor,
		machine:  workflows.NewDocumentStateMachine(),
		baseURL:  baseURL,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func draftPath(documentID uuid.UUID) string {
	return fmt.Sprintf("documents/%s/draft.pdf", documentID)
}

func versionPath(documentID uuid.UUID, number int) string {
	return fmt.Sprintf("documents/%s/v%d.pdf", documentID, number)
}

// UploadDraft stores the immutable draft PDF and opens a new document in
// draft state, with a version-0 placeholder anchoring the unsigned bytes in
// the version chain.
func (s *Service) UploadDraft(ctx context.Context, actor Actor, title, filename string, pdf []byte, expiresAt *time.Time) (*Document, error) {
	if title == "" {
		return nil, &ValidationError{Message: "title is required"}
	}
	if !bytes.HasPrefix(pdf, pdfMagic) {
		return nil, &ValidationError{Message: "file is not a PDF"}
	}
	now := s.now()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, &ValidationError{Message: "expiresAt must be in the future"}
	}

	doc := &Document{
		ID:               uuid.New(),
		TenantID:         actor.TenantID,
		ChainID:          ulid.Make().String(),
		Title:            title,
		Status:           StatusDraft,
		OwnerUserID:      actor.UserID,
		OriginalFilename: filename,
		DraftSHA256:      security.HashBytes(pdf),
		ExpiresAt:        expiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	doc.DraftPath = draftPath(doc.ID)

	draft := &Version{
		ID:            uuid.New(),
		DocumentID:    doc.ID,
		TenantID:      actor.TenantID,
		VersionNumber: 0,
		PDFPath:       doc.DraftPath,
		PDFSHA256:     doc.DraftSHA256,
		PDFSize:       int64(len(pdf)),
		SignedAt:      now,
		CreatedAt:     now,
	}

	if err := s.storage.Put(ctx, doc.DraftPath, pdf); err != nil {
		return nil, fmt.Errorf("failed to store draft: %w", err)
	}
	err := s.repo.Transact(ctx, func(tx Store) error {
		if err := tx.CreateDocument(ctx, doc); err != nil {
			return err
		}
		return tx.CreateVersion(ctx, draft)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, "document.draft_uploaded", actor.TenantID, actor.UserID, "document", doc.ID.String(),
		map[string]interface{}{"chainId": doc.ChainID, "sha256": doc.DraftSHA256})
	s.logger.Info("draft uploaded",
		zap.String("document_id", doc.ID.String()),
		zap.String("chain_id", doc.ChainID),
		zap.String("tenant_id", actor.TenantID))
	return doc, nil
}

// AssignSigners fixes the ordered signer list and moves the document out of
// draft. The list is immutable once set. Entries are resolved against the
// tenant directory by user ID or email; the first signer becomes active and
// the rest queue behind it.
func (s *Service) AssignSigners(ctx context.Context, actor Actor, documentID uuid.UUID, inputs []SignerInput, expiresAt *time.Time) (*Document, []Signer, error) {
	if len(inputs) == 0 {
		return nil, nil, &ValidationError{Message: "at least one signer is required"}
	}
	now := s.now()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, nil, &ValidationError{Message: "expiresAt must be in the future"}
	}

	doc, err := s.repo.GetDocument(ctx, actor.TenantID, documentID)
	if err != nil {
		return nil, nil, err
	}
	if doc.OwnerUserID != actor.UserID {
		return nil, nil, conflict("signer_not_allowed", "only the document owner can assign signers")
	}
	if doc.Status != StatusDraft {
		return nil, nil, conflict("document_not_draft", "signers can only be assigned while the document is a draft")
	}

	existing, err := s.repo.GetSigners(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	if len(existing) > 0 {
		return nil, nil, conflict("signers_already_set", "signers have already been assigned")
	}

	hasDraft, err := s.storage.Exists(ctx, doc.DraftPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check draft: %w", err)
	}
	if !hasDraft {
		return nil, nil, conflict("draft_missing", "draft PDF is missing from storage")
	}

	resolved, err := s.resolveSigners(ctx, actor.TenantID, inputs)
	if err != nil {
		return nil, nil, err
	}

	signers := make([]Signer, 0, len(inputs))
	for i, u := range resolved {
		status := SignerQueued
		if i == 0 {
			status = SignerActive
		}
		signers = append(signers, Signer{
			ID:          uuid.New(),
			DocumentID:  documentID,
			SignerIndex: i + 1,
			UserID:      u.ID,
			Name:        u.Name,
			Email:       u.Email,
			Status:      status,
			CreatedAt:   now,
		})
	}

	if !s.machine.CanTransition(doc.Status, StatusNeedSignature) {
		return nil, nil, conflict("document_not_draft", "document cannot enter signing from %s", doc.Status)
	}

	err = s.repo.Transact(ctx, func(tx Store) error {
		if err := tx.CreateSigners(ctx, signers); err != nil {
			return err
		}
		first := 1
		doc.Status = StatusNeedSignature
		doc.CurrentSignerIndex = &first
		if expiresAt != nil {
			doc.ExpiresAt = expiresAt
		}
		doc.UpdatedAt = now
		return tx.UpdateDocument(ctx, doc)
	})
	if err != nil {
		return nil, nil, err
	}

	s.notifier.Notify(ctx, actor.TenantID, signers[0].UserID, "signature_requested", map[string]interface{}{
		"documentId": doc.ID.String(),
		"title":      doc.Title,
	})
	s.audit.Log(ctx, "document.signers_assigned", actor.TenantID, actor.UserID, "document", doc.ID.String(),
		map[string]interface{}{"signerCount": len(signers)})

	return doc, signers, nil
}

// resolveSigners maps each input entry to a directory user by ID or email.
// Unresolvable entries and duplicate users are rejected together with a
// per-entry field breakdown.
func (s *Service) resolveSigners(ctx context.Context, tenantID string, inputs []SignerInput) ([]DirectoryUser, error) {
	ids := make([]string, 0, len(inputs))
	emails := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if in.UserID != "" {
			ids = append(ids, in.UserID)
		} else if in.Email != "" {
			emails = append(emails, in.Email)
		}
	}

	byID := map[string]DirectoryUser{}
	byEmail := map[string]DirectoryUser{}
	if len(ids) > 0 {
		users, err := s.users.GetByIDs(ctx, tenantID, ids)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			byID[u.ID] = u
		}
	}
	if len(emails) > 0 {
		users, err := s.users.GetByEmails(ctx, tenantID, emails)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			byEmail[u.Email] = u
		}
	}

	fields := map[string]string{}
	seen := map[string]bool{}
	resolved := make([]DirectoryUser, 0, len(inputs))
	for i, in := range inputs {
		field := fmt.Sprintf("signers.%d", i)

		var u DirectoryUser
		var ok bool
		switch {
		case in.UserID != "":
			u, ok = byID[in.UserID]
		case in.Email != "":
			u, ok = byEmail[in.Email]
		default:
			fields[field] = "userId or email is required"
			continue
		}
		if !ok {
			fields[field] = "user not found"
			continue
		}
		if seen[u.ID] {
			fields[field] = "duplicate signer"
			continue
		}
		seen[u.ID] = true
		resolved = append(resolved, u)
	}

	if len(fields) > 0 {
		return nil, &ValidationError{Message: "signer list is invalid", Fields: fields}
	}
	return resolved, nil
}

// Sign produces the next version of the document for the acting signer. The
// artifact is built and stored before the database transaction so no version
// row ever references a missing file; the unique constraints on version
// number and idempotency key arbitrate races inside the transaction.
func (s *Service) Sign(ctx context.Context, actor Actor, documentID uuid.UUID, idempotencyKey, reason string) (*Document, *Version, *Payload, error) {
	if idempotencyKey != "" {
		if replay, err := s.replayByKey(ctx, actor, documentID, idempotencyKey); replay != nil || err != nil {
			if err != nil {
				return nil, nil, nil, err
			}
			return replay.doc, replay.version, replay.payload, nil
		}
	}

	doc, err := s.repo.GetDocument(ctx, actor.TenantID, documentID)
	if err != nil {
		return nil, nil, nil, err
	}

	now := s.now()
	if expired, err := s.expireIfDue(ctx, doc, now); err != nil {
		return nil, nil, nil, err
	} else if expired {
		return nil, nil, nil, conflict("document_expired", "document expired at %s", doc.ExpiresAt.UTC().Format(time.RFC3339))
	}

	if doc.Status != StatusNeedSignature && doc.Status != StatusWaiting {
		return nil, nil, nil, conflict("document_not_signable", "document is %s", doc.Status)
	}

	signers, err := s.repo.GetSigners(ctx, documentID)
	if err != nil {
		return nil, nil, nil, err
	}
	me := findSigner(signers, actor.UserID)
	if me == nil {
		return nil, nil, nil, conflict("signer_not_allowed", "user is not a signer of this document")
	}
	active := activeSigner(signers)
	if active == nil {
		return nil, nil, nil, conflict("document_not_signable", "no signer is awaiting this document")
	}
	if active.SignerIndex != me.SignerIndex {
		return nil, nil, nil, conflict("signer_not_allowed", "it is signer %d's turn", active.SignerIndex)
	}

	input, versionNumber, err := s.loadSigningInput(ctx, doc)
	if err != nil {
		return nil, nil, nil, err
	}

	creds, err := s.certs.GetSigningCredentials(ctx, pki.User{
		GlobalID: actor.UserID,
		Name:     actor.Name,
		Email:    actor.Email,
	})
	if errors.Is(err, pki.ErrCertificateRevoked) {
		return nil, nil, nil, conflict("certificate_revoked", "signing certificate has been revoked")
	}
	if err != nil {
		return nil, nil, nil, err
	}

	root, err := s.rootCA.GetRootCA(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	verificationURL := VerificationURL(s.baseURL, doc.ChainID, versionNumber)
	output, err := s.stamper.Stamp(ctx, input, StampOptions{
		SignerIndex:     me.SignerIndex,
		SignerName:      me.Name,
		VerificationURL: verificationURL,
		Reason:          reason,
		SignedAt:        now,
		Credentials:     creds,
		RootCACert:      root.Certificate,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	outputHash := security.HashBytes(output)
	signature, err := security.SignDetached(creds.PrivateKey, output)
	if err != nil {
		return nil, nil, nil, err
	}

	token, err := s.tsa.Issue(ctx, outputHash, now)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to issue timestamp token: %w", err)
	}

	snapshot, err := s.buildSnapshot(ctx, now, root, creds, token)
	if err != nil {
		return nil, nil, nil, err
	}
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode timestamp token: %w", err)
	}

	// Version paths are write-once. A concurrent request for the same turn
	// produces different bytes for the same path, and letting the loser's
	// write land after the winner commits would detach the stored artifact
	// from the committed hash and signature forever.
	pdfPath := versionPath(doc.ID, versionNumber)
	created, err := s.storage.PutIfAbsent(ctx, pdfPath, output)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to store signed PDF: %w", err)
	}
	if !created {
		if idempotencyKey != "" {
			if replay, rErr := s.replayByKey(ctx, actor, documentID, idempotencyKey); rErr == nil && replay != nil {
				return replay.doc, replay.version, replay.payload, nil
			}
		}
		return nil, nil, nil, conflict("signer_not_ready", "another signature landed first")
	}

	version := &Version{
		ID:                 uuid.New(),
		DocumentID:         doc.ID,
		TenantID:           actor.TenantID,
		VersionNumber:      versionNumber,
		SignerIndex:        me.SignerIndex,
		SignedByUserID:     actor.UserID,
		PDFPath:            pdfPath,
		PDFSHA256:          outputHash,
		PDFSize:            int64(len(output)),
		VerificationURL:    verificationURL,
		Signature:          signature,
		SignatureAlgorithm: security.SignatureAlgorithm,
		CertFingerprint:    creds.Fingerprint,
		CertSubject:        creds.Subject,
		CertSerial:         creds.Serial,
		TSATokenJSON:       tokenJSON,
		TSASignedAt:        &now,
		LTVSnapshotJSON:    snapshot,
		SignedAt:           now,
		CreatedAt:          now,
	}
	if idempotencyKey != "" {
		version.IdempotencyKey = &idempotencyKey
	}

	committed, err := s.commitVersion(ctx, actor, doc, version, me, signers, now)
	if err != nil {
		if IsUniqueViolation(err) && idempotencyKey != "" {
			if replay, rErr := s.replayByKey(ctx, actor, documentID, idempotencyKey); rErr == nil && replay != nil {
				return replay.doc, replay.version, replay.payload, nil
			}
		}
		if IsUniqueViolation(err) {
			return nil, nil, nil, conflict("signer_not_ready", "another signature landed first")
		}
		return nil, nil, nil, err
	}

	s.afterSign(ctx, actor, committed.doc, committed.signers, version)
	return committed.doc, version, BuildPayload(s.baseURL, committed.doc, version, committed.signers), nil
}

type commitResult struct {
	doc     *Document
	signers []Signer
}

// commitVersion re-validates state under a row lock and persists the version
// atomically with the signer and document updates.
func (s *Service) commitVersion(ctx context.Context, actor Actor, doc *Document, version *Version, me *Signer, signers []Signer, now time.Time) (*commitResult, error) {
	var result commitResult

	err := s.repo.Transact(ctx, func(tx Store) error {
		locked, err := tx.GetDocumentForUpdate(ctx, actor.TenantID, doc.ID)
		if err != nil {
			return err
		}
		if locked.Status != StatusNeedSignature && locked.Status != StatusWaiting {
			return conflict("document_not_signable", "document is %s", locked.Status)
		}

		lockedSigners, err := tx.GetSigners(ctx, doc.ID)
		if err != nil {
			return err
		}
		active := activeSigner(lockedSigners)
		if active == nil || active.UserID != actor.UserID {
			return conflict("signer_not_ready", "signing turn has moved on")
		}

		if err := tx.CreateVersion(ctx, version); err != nil {
			return err
		}

		active.Status = SignerSigned
		active.SignedAt = &now
		active.VersionID = &version.ID
		if err := tx.UpdateSigner(ctx, active); err != nil {
			return err
		}

		next := nextQueuedSigner(lockedSigners)
		if next == nil {
			locked.Status = StatusCompleted
			locked.CompletedAt = &now
			locked.CurrentSignerIndex = nil
		} else {
			next.Status = SignerActive
			if err := tx.UpdateSigner(ctx, next); err != nil {
				return err
			}
			locked.Status = StatusWaiting
			locked.CurrentSignerIndex = &next.SignerIndex
		}
		locked.UpdatedAt = now
		if err := tx.UpdateDocument(ctx, locked); err != nil {
			return err
		}

		result.doc = locked
		result.signers = lockedSigners
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Service) afterSign(ctx context.Context, actor Actor, doc *Document, signers []Signer, version *Version) {
	s.audit.Log(ctx, "document.signed", actor.TenantID, actor.UserID, "document", doc.ID.String(),
		map[string]interface{}{
			"versionNumber": version.VersionNumber,
			"sha256":        version.PDFSHA256,
		})

	if doc.Status == StatusCompleted {
		s.notifier.Notify(ctx, actor.TenantID, doc.OwnerUserID, "document_completed", map[string]interface{}{
			"documentId": doc.ID.String(),
			"title":      doc.Title,
		})
		return
	}
	if next := activeSigner(signers); next != nil {
		s.notifier.Notify(ctx, actor.TenantID, next.UserID, "signature_requested", map[string]interface{}{
			"documentId": doc.ID.String(),
			"title":      doc.Title,
		})
	}
}

type replayResult struct {
	doc     *Document
	version *Version
	payload *Payload
}

// replayByKey returns the previously committed result for an idempotency
// key, or nil when the key is unused.
func (s *Service) replayByKey(ctx context.Context, actor Actor, documentID uuid.UUID, key string) (*replayResult, error) {
	version, err := s.repo.GetVersionByIdempotencyKey(ctx, actor.TenantID, key)
	if errors.Is(err, ErrVersionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if version.DocumentID != documentID || version.SignedByUserID != actor.UserID {
		return nil, &ValidationError{Message: "idempotency key was used for a different operation"}
	}

	doc, err := s.repo.GetDocument(ctx, actor.TenantID, documentID)
	if err != nil {
		return nil, err
	}
	signers, err := s.repo.GetSigners(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &replayResult{doc: doc, version: version, payload: BuildPayload(s.baseURL, doc, version, signers)}, nil
}

func (s *Service) loadSigningInput(ctx context.Context, doc *Document) ([]byte, int, error) {
	latest, err := s.repo.GetLatestVersion(ctx, doc.ID)
	if errors.Is(err, ErrVersionNotFound) {
		input, err := s.storage.Get(ctx, doc.DraftPath)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, 0, conflict("draft_missing", "draft PDF is missing from storage")
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to load draft: %w", err)
		}
		return input, 1, nil
	}
	if err != nil {
		return nil, 0, err
	}

	input, err := s.storage.Get(ctx, latest.PDFPath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, 0, conflict("draft_missing", "version %d PDF is missing from storage", latest.VersionNumber)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load version %d: %w", latest.VersionNumber, err)
	}
	return input, latest.VersionNumber + 1, nil
}

func (s *Service) buildSnapshot(ctx context.Context, now time.Time, root *pki.CAIdentity, creds *pki.SigningCredentials, token *pki.Token) ([]byte, error) {
	tsaIdentity, err := s.tsa.GetTSA(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := LTVSnapshot{
		GeneratedAt: now.Format(time.RFC3339),
		RootCA: &LTVRootCA{
			Fingerprint: root.Fingerprint,
			Certificate: root.CertificatePEM,
		},
		Signer: &LTVSignerCert{
			Certificate: creds.CertificatePEM,
			Fingerprint: creds.Fingerprint,
			Subject:     creds.Subject,
			Serial:      creds.Serial,
		},
		TSA: &LTVTimestampProof{
			Token:       token,
			Certificate: tsaIdentity.CertificatePEM,
			Fingerprint: tsaIdentity.Fingerprint,
		},
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode LTV snapshot: %w", err)
	}
	return data, nil
}

// Cancel closes a document before completion. Only the owner can cancel, and
// only while the workflow is still open.
func (s *Service) Cancel(ctx context.Context, actor Actor, documentID uuid.UUID, reason string) (*Document, error) {
	doc, err := s.repo.GetDocument(ctx, actor.TenantID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerUserID != actor.UserID {
		return nil, conflict("signer_not_allowed", "only the document owner can cancel")
	}
	if !s.machine.CanTransition(doc.Status, StatusCanceled) {
		return nil, conflict("document_not_cancelable", "document is %s", doc.Status)
	}

	now := s.now()
	var canceled []Signer
	err = s.repo.Transact(ctx, func(tx Store) error {
		locked, err := tx.GetDocumentForUpdate(ctx, actor.TenantID, documentID)
		if err != nil {
			return err
		}
		if !s.machine.CanTransition(locked.Status, StatusCanceled) {
			return conflict("document_not_cancelable", "document is %s", locked.Status)
		}

		signers, err := tx.GetSigners(ctx, documentID)
		if err != nil {
			return err
		}
		canceled = canceled[:0]
		for i := range signers {
			if signers[i].Status != SignerQueued && signers[i].Status != SignerActive {
				continue
			}
			signers[i].Status = SignerCanceled
			if err := tx.UpdateSigner(ctx, &signers[i]); err != nil {
				return err
			}
			canceled = append(canceled, signers[i])
		}

		locked.Status = StatusCanceled
		locked.CanceledAt = &now
		locked.CurrentSignerIndex = nil
		if reason != "" {
			locked.CanceledReason = &reason
		}
		locked.UpdatedAt = now
		doc = locked
		return tx.UpdateDocument(ctx, locked)
	})
	if err != nil {
		return nil, err
	}

	for _, signer := range canceled {
		s.notifier.Notify(ctx, actor.TenantID, signer.UserID, "document_canceled", map[string]interface{}{
			"documentId": doc.ID.String(),
			"title":      doc.Title,
		})
	}
	s.audit.Log(ctx, "document.canceled", actor.TenantID, actor.UserID, "document", doc.ID.String(),
		map[string]interface{}{"reason": reason})
	return doc, nil
}

// expireIfDue transitions a document past its deadline to expired. Expiry is
// lazy: it happens on the first touch after the deadline.
func (s *Service) expireIfDue(ctx context.Context, doc *Document, now time.Time) (bool, error) {
	if doc.ExpiresAt == nil || now.Before(*doc.ExpiresAt) {
		return false, nil
	}
	if doc.Status == StatusExpired {
		return true, nil
	}
	if !s.machine.CanTransition(doc.Status, StatusExpired) {
		return false, nil
	}

	doc.Status = StatusExpired
	doc.CurrentSignerIndex = nil
	doc.UpdatedAt = now
	if err := s.repo.UpdateDocument(ctx, doc); err != nil {
		return false, err
	}
	s.audit.Log(ctx, "document.expired", doc.TenantID, "", "document", doc.ID.String(), nil)
	return true, nil
}

// GetDocument returns a document with its signers and version history.
func (s *Service) GetDocument(ctx context.Context, actor Actor, documentID uuid.UUID) (*Document, []Signer, []Version, error) {
	doc, err := s.repo.GetDocument(ctx, actor.TenantID, documentID)
	if err != nil {
		return nil, nil, nil, err
	}
	signers, err := s.repo.GetSigners(ctx, documentID)
	if err != nil {
		return nil, nil, nil, err
	}
	versions, err := s.repo.GetVersions(ctx, documentID)
	if err != nil {
		return nil, nil, nil, err
	}
	return doc, signers, versions, nil
}

// ListDocuments lists documents in the actor's tenant, optionally filtered
// to the actor's own documents or a status.
func (s *Service) ListDocuments(ctx context.Context, actor Actor, status string, mineOnly bool, limit, offset int) ([]Document, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	owner := ""
	if mineOnly {
		owner = actor.UserID
	}
	return s.repo.ListDocuments(ctx, actor.TenantID, owner, status, limit, offset)
}

// Inbox groups the actor's signing participations by what they need to do:
// their turn now, already signed but others outstanding, queued behind other
// signers, or done.
type Inbox struct {
	NeedSignature []InboxEntry `json:"needSignature"`
	Waiting       []InboxEntry `json:"waiting"`
	Upcoming      []InboxEntry `json:"upcoming"`
	Completed     []InboxEntry `json:"completed"`
}

type InboxEntry struct {
	DocumentID   string     `json:"documentId"`
	ChainID      string     `json:"chainId"`
	Title        string     `json:"title"`
	Status       string     `json:"status"`
	SignerIndex  int        `json:"signerIndex"`
	SignerStatus string     `json:"signerStatus"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// GetInbox builds the four-bucket signer inbox. Documents past their
// deadline are shown as expired even before the lazy transition persists.
func (s *Service) GetInbox(ctx context.Context, actor Actor) (*Inbox, error) {
	docs, err := s.repo.ListDocumentsForSigner(ctx, actor.TenantID, actor.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	inbox := &Inbox{
		NeedSignature: []InboxEntry{},
		Waiting:       []InboxEntry{},
		Upcoming:      []InboxEntry{},
		Completed:     []InboxEntry{},
	}

	for i := range docs {
		doc := docs[i]
		signers, err := s.repo.GetSigners(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		me := findSigner(signers, actor.UserID)
		if me == nil {
			continue
		}

		status := doc.Status
		if doc.ExpiresAt != nil && !now.Before(*doc.ExpiresAt) && !s.machine.IsTerminal(status) && status != StatusExpired {
			status = StatusExpired
		}

		entry := InboxEntry{
			DocumentID:   doc.ID.String(),
			ChainID:      doc.ChainID,
			Title:        doc.Title,
			Status:       status,
			SignerIndex:  me.SignerIndex,
			SignerStatus: me.Status,
			ExpiresAt:    doc.ExpiresAt,
		}

		switch {
		case status == StatusCompleted:
			inbox.Completed = append(inbox.Completed, entry)
		case me.Status == SignerActive:
			inbox.NeedSignature = append(inbox.NeedSignature, entry)
		case me.Status == SignerSigned:
			inbox.Waiting = append(inbox.Waiting, entry)
		case me.Status == SignerQueued:
			inbox.Upcoming = append(inbox.Upcoming, entry)
		}
	}
	return inbox, nil
}

// DownloadVersion streams a signed version artifact.
func (s *Service) DownloadVersion(ctx context.Context, actor Actor, documentID uuid.UUID, versionNumber int) (io.ReadCloser, *Version, error) {
	doc, err := s.repo.GetDocument(ctx, actor.TenantID, documentID)
	if err != nil {
		return nil, nil, err
	}
	version, err := s.repo.GetVersion(ctx, doc.ID, versionNumber)
	if err != nil {
		return nil, nil, err
	}
	reader, err := s.storage.Download(ctx, version.PDFPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open version %d: %w", versionNumber, err)
	}
	return reader, version, nil
}

// findSigner returns the signer row for a user, or nil.
func findSigner(signers []Signer, userID string) *Signer {
	for i := range signers {
		if signers[i].UserID == userID {
			return &signers[i]
		}
	}
	return nil
}

// activeSigner is the one signer whose turn it is. The stored
// current_signer_index is a denormalized mirror of this.
func activeSigner(signers []Signer) *Signer {
	for i := range signers {
		if signers[i].Status == SignerActive {
			return &signers[i]
		}
	}
	return nil
}

// nextQueuedSigner is the lowest-index signer still waiting for its turn.
func nextQueuedSigner(signers []Signer) *Signer {
	var next *Signer
	for i := range signers {
		if signers[i].Status != SignerQueued {
			continue
		}
		if next == nil || signers[i].SignerIndex < next.SignerIndex {
			next = &signers[i]
		}
	}
	return next
}
