package kernel

import (
	"net/http"

	"github.com/google/uuid"
)

func UuidV7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// BindJSON binds the body into obj and answers 400 when it does not fit.
func (rt *RequestRuntime) BindJSON(obj any) bool {
	if err := rt.RequestContext.ShouldBindJSON(obj); err != nil {
		rt.Ef(http.StatusBadRequest, "bad request: %v", err)
		return false
	}
	return true
}
