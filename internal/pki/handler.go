package pki

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rifqiyafik/E-signApp/internal/auth"
)

// Handler exposes the trust anchors and the per-user certificate lifecycle.
type Handler struct {
	service *Service
	rootCA  *RootCAService
	logger  *zap.Logger
}

func NewHandler(service *Service, rootCA *RootCAService, logger *zap.Logger) *Handler {
	return &Handler{service: service, rootCA: rootCA, logger: logger}
}

// RegisterRoutes registers the PKI routes. The root CA endpoint is public so
// external verifiers can fetch the trust anchor; certificate lifecycle
// endpoints require authentication.
func (h *Handler) RegisterRoutes(public, authed *gin.RouterGroup) {
	public.GET("/pki/root-ca", h.GetRootCA)

	certs := authed.Group("/certificates")
	{
		certs.GET("/me", h.GetMyCertificate)
		certs.POST("/enroll", h.Enroll)
		certs.POST("/renew", h.Renew)
		certs.POST("/revoke", h.Revoke)
	}
}

func (h *Handler) GetRootCA(c *gin.Context) {
	identity, err := h.rootCA.GetRootCA(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load root CA", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "root CA unavailable", "code": "root_ca_unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"certificate": identity.CertificatePEM,
		"fingerprint": identity.Fingerprint,
		"subject":     identity.Subject,
		"validFrom":   identity.ValidFrom.UTC().Format(time.RFC3339),
		"validTo":     identity.ValidTo.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) GetMyCertificate(c *gin.Context) {
	identity, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "unauthenticated", "code": "unauthenticated"})
		return
	}

	record, err := h.service.EnsureForUser(c.Request.Context(), User{
		GlobalID: identity.UserID,
		Name:     identity.Name,
		Email:    identity.Email,
	})
	if err != nil {
		h.logger.Error("failed to load certificate", zap.String("user_id", identity.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to load certificate", "code": "internal_error"})
		return
	}

	h.renderCertificate(c, record)
}

func (h *Handler) Enroll(c *gin.Context) {
	h.GetMyCertificate(c)
}

func (h *Handler) Renew(c *gin.Context) {
	identity, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "unauthenticated", "code": "unauthenticated"})
		return
	}

	record, err := h.service.RenewForUser(c.Request.Context(), User{
		GlobalID: identity.UserID,
		Name:     identity.Name,
		Email:    identity.Email,
	})
	if err != nil {
		h.logger.Error("failed to renew certificate", zap.String("user_id", identity.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to renew certificate", "code": "internal_error"})
		return
	}

	h.renderCertificate(c, record)
}

func (h *Handler) Revoke(c *gin.Context) {
	identity, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "unauthenticated", "code": "unauthenticated"})
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	record, err := h.service.RevokeForUser(c.Request.Context(), identity.UserID, req.Reason)
	if errors.Is(err, ErrCertificateNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "no certificate to revoke", "code": "certificate_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to revoke certificate", zap.String("user_id", identity.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to revoke certificate", "code": "internal_error"})
		return
	}

	h.renderCertificate(c, record)
}

func (h *Handler) renderCertificate(c *gin.Context, record *UserCertificate) {
	status, err := h.rootCA.EvaluateCertificate(c.Request.Context(), record, time.Now().UTC())
	if err != nil {
		h.logger.Error("failed to evaluate certificate", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to evaluate certificate", "code": "internal_error"})
		return
	}

	resp := gin.H{
		"id":          record.ID,
		"certificate": record.Certificate,
		"publicKey":   record.PublicKey,
		"fingerprint": record.Fingerprint,
		"status":      status,
	}
	if record.Serial != nil {
		resp["serial"] = *record.Serial
	}
	if record.Subject != nil {
		resp["subject"] = *record.Subject
	}
	if record.Issuer != nil {
		resp["issuer"] = *record.Issuer
	}
	if record.ValidFrom != nil {
		resp["validFrom"] = record.ValidFrom.UTC().Format(time.RFC3339)
	}
	if record.ValidTo != nil {
		resp["validTo"] = record.ValidTo.UTC().Format(time.RFC3339)
	}
	if record.RevokedAt != nil {
		resp["revokedAt"] = record.RevokedAt.UTC().Format(time.RFC3339)
	}
	if record.RevokedReason != nil {
		resp["revokedReason"] = *record.RevokedReason
	}

	c.JSON(http.StatusOK, resp)
}
