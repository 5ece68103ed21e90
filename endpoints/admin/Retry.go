package admin

import (
	"errors"
	"net/http"
	"strconv"

	"git.sr.ht/~aondrejcak/panel-credits/kernel"
	"git.sr.ht/~aondrejcak/panel-credits/recovery"
	"git.sr.ht/~aondrejcak/panel-credits/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.nhat.io/otelsql/attribute"
)

type RetryBatchDto struct {
	TenantID   string `json:"tenantId"`
	ResellerID uint   `json:"resellerId"`
}

func retryStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, recovery.ErrAlreadyPaid),
		errors.Is(err, recovery.ErrNotRetryable),
		errors.Is(err, recovery.ErrInFlight):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func admin(c *gin.Context, art *kernel.AppRuntime) string {
	if v, ok := c.Get(art.IdentityKey); ok {
		if id, ok := v.(*kernel.AdminIdentity); ok {
			return id.Username
		}
	}
	return ""
}

func RetryPayment(c *gin.Context) {
	rt := c.MustGet("rt").(*kernel.RequestRuntime)
	rt.StepInto("admin.retry_payment")

	paymentId := c.Param("id")
	id, err := strconv.ParseUint(paymentId, 10, 64)
	if err != nil {
		rt.Ef(http.StatusBadRequest, "invalid payment id '%s'", paymentId)
		return
	}
	rt.Span.SetAttributes(attribute.KeyValue("payment.id", id))

	log.Info().Str("admin", admin(c, rt.AppRuntime)).Uint64("payment_id", id).Msg("manual retry requested")

	out, err := rt.AppRuntime.Coordinator.RetrySingle(rt.Context(), uint(id))
	if err != nil {
		rt.E(retryStatus(err), err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"paymentId": id,
		"success":   out.Success,
		"message":   out.Message,
		"attempts":  out.Attempts,
	})
	rt.EndBlock()
}

func RetryBatch(c *gin.Context) {
	rt := c.MustGet("rt").(*kernel.RequestRuntime)
	rt.StepInto("admin.retry_batch")

	var dto RetryBatchDto
	// an empty body retries every failed payment
	if c.Request.ContentLength != 0 {
		if !rt.BindJSON(&dto) {
			return
		}
	}
	rt.Span.SetAttributes(
		attribute.KeyValue("filter.tenant_id", dto.TenantID),
		attribute.KeyValue("filter.reseller_id", dto.ResellerID),
	)

	log.Info().Str("admin", admin(c, rt.AppRuntime)).
		Str("tenant_id", dto.TenantID).Uint("reseller_id", dto.ResellerID).
		Msg("batch retry requested")

	report, err := rt.AppRuntime.Coordinator.RetryBatch(rt.Context(), store.Filter{
		TenantID:   dto.TenantID,
		ResellerID: dto.ResellerID,
	})
	if err != nil {
		rt.E(retryStatus(err), err)
		return
	}

	c.JSON(http.StatusOK, report)
	rt.EndBlock()
}
