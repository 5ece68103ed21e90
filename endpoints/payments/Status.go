package payments

import (
	"errors"
	"net/http"
	"strconv"

	"git.sr.ht/~aondrejcak/panel-credits/assert"
	"git.sr.ht/~aondrejcak/panel-credits/kernel"
	"git.sr.ht/~aondrejcak/panel-credits/store"
	"github.com/gin-gonic/gin"
)

type transactionView struct {
	Success   bool   `json:"success"`
	Attempts  int    `json:"attempts"`
	Credits   int    `json:"credits"`
	CreatedAt string `json:"createdAt"`
}

func PaymentStatus(c *gin.Context) {
	rt := c.MustGet("rt").(*kernel.RequestRuntime)
	rt.StepInto("payment_status.handler")

	assert.NotNil(rt.Reseller, "reseller != nil")

	paymentId := c.Param("id")
	id, err := strconv.ParseUint(paymentId, 10, 64)
	if err != nil {
		rt.Ef(http.StatusBadRequest, "invalid payment id '%s'", paymentId)
		return
	}

	pmt, err := rt.Store.GetPayment(rt.Context(), uint(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rt.Ef(http.StatusNotFound, "payment with ID '%s' not found", paymentId)
			return
		}
		rt.Ef(http.StatusInternalServerError, "failed to query store: %v", err)
		return
	}

	// other resellers' payments do not exist as far as the caller can tell
	if pmt.ResellerID != rt.Reseller.ID {
		rt.Ef(http.StatusNotFound, "payment with ID '%s' not found", paymentId)
		return
	}

	txs, err := rt.Store.Transactions(rt.Context(), pmt.ID)
	if err != nil {
		rt.Ef(http.StatusInternalServerError, "failed to query transactions: %v", err)
		return
	}

	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, transactionView{
			Success:   tx.Success,
			Attempts:  tx.Attempts,
			Credits:   tx.Credits,
			CreatedAt: tx.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"paymentId":    pmt.ID,
		"status":       pmt.Status,
		"statusLabel":  pmt.Status.Label(),
		"credits":      pmt.Credits,
		"amount":       pmt.Amount,
		"expiresAt":    pmt.ExpiresAt,
		"paidAt":       pmt.PaidAt,
		"transactions": views,
	})
	rt.EndBlock()
}
