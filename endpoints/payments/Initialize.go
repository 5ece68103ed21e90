package payments

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/assert"
	"git.sr.ht/~aondrejcak/panel-credits/kernel"
	"git.sr.ht/~aondrejcak/panel-credits/models"
	"git.sr.ht/~aondrejcak/panel-credits/provider"
	"git.sr.ht/~aondrejcak/panel-credits/store"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.nhat.io/otelsql/attribute"
)

// CreatePaymentDto names the package to buy. Credits and amount come from the
// package; when a client sends them anyway they have to match it.
type CreatePaymentDto struct {
	PackageID   uint             `json:"packageId" binding:"required"`
	Credits     *int             `json:"credits"`
	Amount      *decimal.Decimal `json:"amount"`
	Description string           `json:"description" binding:"max=255"`
	PayerEmail  string           `json:"payerEmail" binding:"omitempty,email"`
}

func InitPayment(rt *kernel.RequestRuntime, reseller *models.Reseller, pkg *models.Package, dto *CreatePaymentDto) (*provider.PixPayment, error) {
	art := rt.AppRuntime

	rt.StepInto("payment_init.provider")

	reference, err := kernel.UuidV7()
	if err != nil {
		return nil, rt.MakeErrorf("could not generate reference: %w", err)
	}
	rt.Span.SetAttributes(attribute.KeyValue("mp.external_reference", reference))

	description := dto.Description
	if description == "" {
		description = fmt.Sprintf("%s (%d credits)", pkg.Name, pkg.Credits)
	}
	email := dto.PayerEmail
	if email == "" {
		email = fmt.Sprintf("reseller-%d@%s.invalid", reseller.ID, reseller.TenantID)
	}

	pix, err := art.Provider.CreatePixPayment(rt.Context(), provider.PixRequest{
		Amount:      pkg.Amount,
		Description: description,
		Reference:   reference,
		PayerEmail:  email,
		ExpiresAt:   time.Now().Add(art.PaymentTTL),
	})
	if err != nil {
		return nil, rt.MakeErrorf("could not create pix payment: %w", err)
	}
	rt.Span.SetAttributes(attribute.KeyValue("mp.payment_id", pix.ID))

	rt.End()
	return pix, nil
}

func CreatePayment(c *gin.Context) {
	rt := c.MustGet("rt").(*kernel.RequestRuntime)
	rt.StepInto("payment_init.handler")

	assert.NotNil(rt.Reseller, "reseller != nil")
	reseller := rt.Reseller

	var dto CreatePaymentDto
	if !rt.BindJSON(&dto) {
		return
	}
	pkg, err := rt.Store.Package(rt.Context(), reseller.TenantID, dto.PackageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rt.Ef(http.StatusNotFound, "package with ID '%d' not found", dto.PackageID)
			return
		}
		rt.Ef(http.StatusInternalServerError, "failed to query store: %v", err)
		return
	}
	if dto.Credits != nil && *dto.Credits != pkg.Credits {
		rt.Ef(http.StatusBadRequest, "bad request: credits do not match package %d", pkg.ID)
		return
	}
	if dto.Amount != nil && !dto.Amount.Equal(pkg.Amount) {
		rt.Ef(http.StatusBadRequest, "bad request: amount does not match package %d", pkg.ID)
		return
	}
	if pkg.Credits <= 0 || !pkg.Amount.IsPositive() {
		rt.Ef(http.StatusInternalServerError, "package %d is misconfigured", pkg.ID)
		return
	}

	pix, err := InitPayment(rt, reseller, pkg, &dto)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, provider.ErrUnavailable) {
			code = http.StatusBadGateway
		}
		rt.Ef(code, "failed to initialize payment: %v", err)
		return
	}

	m := &models.Payment{
		TenantID:     reseller.TenantID,
		ResellerID:   reseller.ID,
		ResellerType: reseller.ResellerType,
		PackageID:    pkg.ID,

		Credits: pkg.Credits,
		Amount:  pkg.Amount,

		ExternalPaymentID: pix.ID,
		QRCode:            pix.QRCode,
		QRCodeImage:       pix.QRCodeImage,

		Status:    models.STATUS_PENDING,
		ExpiresAt: pix.ExpiresAt,
	}

	if err := rt.Store.CreatePayment(rt.Context(), m); err != nil {
		rt.Ef(http.StatusInternalServerError, "failed to save payment: %v", err)
		return
	}

	c.JSON(http.StatusCreated, &gin.H{
		"paymentId":   m.ID,
		"status":      m.Status,
		"amount":      m.Amount,
		"credits":     m.Credits,
		"qrCode":      m.QRCode,
		"qrCodeImage": m.QRCodeImage,
		"expiresAt":   m.ExpiresAt,
	})
	rt.EndBlock()
}
