package documents

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rifqiyafik/E-signApp/internal/auth"
)

// maxUploadBytes caps draft and verification uploads at 25 MiB.
const maxUploadBytes = 25 << 20

// Handler exposes the document workflow and the public verification
// endpoints.
type Handler struct {
	service  *Service
	verifier *Verifier
	logger   *zap.Logger
}

func NewHandler(service *Service, verifier *Verifier, logger *zap.Logger) *Handler {
	return &Handler{service: service, verifier: verifier, logger: logger}
}

// RegisterRoutes registers document routes. Verification endpoints are
// public: anyone holding a stamped PDF or a QR link can verify it.
func (h *Handler) RegisterRoutes(public, authed *gin.RouterGroup) {
	// The inbox route lives beside the documents group because the router
	// does not allow a static segment next to the :id wildcard.
	authed.GET("/inbox", h.GetInbox)

	docs := authed.Group("/documents")
	{
		docs.POST("", h.UploadDraft)
		docs.GET("", h.ListDocuments)
		docs.GET("/:id", h.GetDocument)
		docs.POST("/:id/signers", h.AssignSigners)
		docs.POST("/:id/sign", h.Sign)
		docs.POST("/:id/cancel", h.Cancel)
		docs.GET("/:id/versions/:version/download", h.DownloadVersion)
	}

	public.POST("/verify", h.VerifyUpload)
	public.GET("/verify/:chainId/:version", h.VerifyReference)
	public.POST("/verify/:chainId/:version", h.VerifyFileForVersion)
}

func (h *Handler) UploadDraft(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	title := c.PostForm("title")
	var expiresAt *time.Time
	if raw := c.PostForm("expiresAt"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, h.logger, &ValidationError{Message: "expiresAt must be RFC 3339"})
			return
		}
		expiresAt = &parsed
	}

	pdf, filename, err := readUpload(c, "file")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	doc, err := h.service.UploadDraft(c.Request.Context(), actor, title, filename, pdf, expiresAt)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, renderDocument(doc, nil, nil))
}

func (h *Handler) ListDocuments(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	mineOnly := c.Query("mine") == "true"

	docs, err := h.service.ListDocuments(c.Request.Context(), actor, c.Query("status"), mineOnly, limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	out := make([]gin.H, 0, len(docs))
	for i := range docs {
		out = append(out, renderDocument(&docs[i], nil, nil))
	}
	c.JSON(http.StatusOK, gin.H{"documents": out, "limit": limit, "offset": offset})
}

func (h *Handler) GetInbox(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	inbox, err := h.service.GetInbox(c.Request.Context(), actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, inbox)
}

func (h *Handler) GetDocument(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, ErrDocumentNotFound)
		return
	}

	doc, signers, versions, err := h.service.GetDocument(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, renderDocument(doc, signers, versions))
}

func (h *Handler) AssignSigners(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, ErrDocumentNotFound)
		return
	}

	var req struct {
		Signers   []SignerInput `json:"signers" binding:"required"`
		ExpiresAt *time.Time    `json:"expiresAt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, &ValidationError{Message: "signers list is required"})
		return
	}

	doc, signers, err := h.service.AssignSigners(c.Request.Context(), actor, id, req.Signers, req.ExpiresAt)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, renderDocument(doc, signers, nil))
}

func (h *Handler) Sign(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, ErrDocumentNotFound)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	idempotencyKey := c.GetHeader("Idempotency-Key")

	doc, version, payload, err := h.service.Sign(c.Request.Context(), actor, id, idempotencyKey, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"document": renderDocument(doc, nil, nil),
		"version":  renderVersion(version),
		"payload":  payload,
	})
}

func (h *Handler) Cancel(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, ErrDocumentNotFound)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	doc, err := h.service.Cancel(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, renderDocument(doc, nil, nil))
}

func (h *Handler) DownloadVersion(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, ErrDocumentNotFound)
		return
	}
	versionNumber, err := strconv.Atoi(c.Param("version"))
	if err != nil || versionNumber < 0 {
		respondError(c, h.logger, ErrVersionNotFound)
		return
	}

	reader, version, err := h.service.DownloadVersion(c.Request.Context(), actor, id, versionNumber)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	defer reader.Close()

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("v%d.pdf", version.VersionNumber)))
	if _, err := io.Copy(c.Writer, reader); err != nil {
		h.logger.Warn("download aborted", zap.String("document_id", id.String()), zap.Error(err))
	}
}

func (h *Handler) VerifyUpload(c *gin.Context) {
	file, _, err := readUpload(c, "file")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	verdict, err := h.verifier.VerifyByUpload(c.Request.Context(), file)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, verdict)
}

func (h *Handler) VerifyReference(c *gin.Context) {
	chainID := c.Param("chainId")
	versionNumber, err := strconv.Atoi(c.Param("version"))
	if err != nil || versionNumber < 0 {
		respondError(c, h.logger, ErrVersionNotFound)
		return
	}

	verdict, err := h.verifier.VerifyByReference(c.Request.Context(), chainID, versionNumber)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, verdict)
}

func (h *Handler) VerifyFileForVersion(c *gin.Context) {
	chainID := c.Param("chainId")
	versionNumber, err := strconv.Atoi(c.Param("version"))
	if err != nil || versionNumber < 0 {
		respondError(c, h.logger, ErrVersionNotFound)
		return
	}
	file, _, err := readUpload(c, "file")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	verdict, err := h.verifier.VerifyFileForVersion(c.Request.Context(), chainID, versionNumber, file)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, verdict)
}

func requireActor(c *gin.Context) (Actor, bool) {
	identity, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "unauthenticated", "code": "unauthenticated"})
		return Actor{}, false
	}
	return Actor{
		TenantID: identity.TenantID,
		UserID:   identity.UserID,
		Name:     identity.Name,
		Email:    identity.Email,
	}, true
}

func readUpload(c *gin.Context, field string) ([]byte, string, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return nil, "", &ValidationError{Message: field + " upload is required"}
	}
	if header.Size > maxUploadBytes {
		return nil, "", &ValidationError{Message: "file exceeds the upload limit"}
	}

	f, err := header.Open()
	if err != nil {
		return nil, "", &ValidationError{Message: "unreadable upload"}
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return nil, "", &ValidationError{Message: "unreadable upload"}
	}
	if len(data) > maxUploadBytes {
		return nil, "", &ValidationError{Message: "file exceeds the upload limit"}
	}
	return data, header.Filename, nil
}

// respondError maps domain errors onto HTTP statuses. Conflict codes that
// represent authorization or timing problems get their dedicated statuses.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var conflictErr *ConflictError
	var validationErr *ValidationError

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "document not found", "code": "document_not_found"})
	case errors.Is(err, ErrVersionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "version not found", "code": "version_not_found"})
	case errors.As(err, &validationErr):
		body := gin.H{"message": validationErr.Message, "code": "validation_failed"}
		if len(validationErr.Fields) > 0 {
			body["errors"] = validationErr.Fields
		}
		c.JSON(http.StatusUnprocessableEntity, body)
	case errors.As(err, &conflictErr):
		status := http.StatusConflict
		switch conflictErr.Code {
		case "signer_not_allowed":
			status = http.StatusForbidden
		case "document_expired":
			status = http.StatusGone
		}
		c.JSON(status, gin.H{"message": conflictErr.Message, "code": conflictErr.Code})
	default:
		logger.Error("document operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error", "code": "internal_error"})
	}
}

func renderDocument(doc *Document, signers []Signer, versions []Version) gin.H {
	out := gin.H{
		"id":                 doc.ID,
		"chainId":            doc.ChainID,
		"title":              doc.Title,
		"status":             doc.Status,
		"ownerUserId":        doc.OwnerUserID,
		"currentSignerIndex": doc.CurrentSignerIndex,
		"originalFilename":   doc.OriginalFilename,
		"draftSha256":        doc.DraftSHA256,
		"draftUploadedAt":    doc.CreatedAt.UTC().Format(time.RFC3339),
		"createdAt":          doc.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":          doc.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if doc.ExpiresAt != nil {
		out["expiresAt"] = doc.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if doc.CompletedAt != nil {
		out["completedAt"] = doc.CompletedAt.UTC().Format(time.RFC3339)
	}
	if doc.CanceledAt != nil {
		out["canceledAt"] = doc.CanceledAt.UTC().Format(time.RFC3339)
	}
	if doc.CanceledReason != nil {
		out["canceledReason"] = *doc.CanceledReason
	}

	if signers != nil {
		rendered := make([]gin.H, 0, len(signers))
		for i := range signers {
			rendered = append(rendered, renderSigner(&signers[i]))
		}
		out["signers"] = rendered
	}
	if versions != nil {
		rendered := make([]gin.H, 0, len(versions))
		for i := range versions {
			rendered = append(rendered, renderVersion(&versions[i]))
		}
		out["versions"] = rendered
	}
	return out
}

func renderSigner(s *Signer) gin.H {
	out := gin.H{
		"signerIndex": s.SignerIndex,
		"userId":      s.UserID,
		"name":        s.Name,
		"email":       s.Email,
		"status":      s.Status,
	}
	if s.SignedAt != nil {
		out["signedAt"] = s.SignedAt.UTC().Format(time.RFC3339)
	}
	if s.VersionID != nil {
		out["versionId"] = s.VersionID.String()
	}
	return out
}

func renderVersion(v *Version) gin.H {
	out := gin.H{
		"versionNumber":          v.VersionNumber,
		"signerIndex":            v.SignerIndex,
		"signedByUserId":         v.SignedByUserID,
		"sha256":                 v.PDFSHA256,
		"size":                   v.PDFSize,
		"verificationUrl":        v.VerificationURL,
		"signature":              v.Signature,
		"signatureAlgorithm":     v.SignatureAlgorithm,
		"certificateFingerprint": v.CertFingerprint,
		"certificateSubject":     v.CertSubject,
		"certificateSerial":      v.CertSerial,
		"signedAt":               v.SignedAt.UTC().Format(time.RFC3339),
	}
	if v.TSASignedAt != nil {
		out["tsaSignedAt"] = v.TSASignedAt.UTC().Format(time.RFC3339)
	}
	return out
}
