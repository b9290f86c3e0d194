package handlers

import (
	"errors"
	"net/http"

	"github.com/recallio/insight-engine/pkg/core"
	"github.com/recallio/insight-engine/pkg/gateway/mw"
)

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var coreErr *core.Error
	if !errors.As(err, &coreErr) {
		coreErr = &core.Error{Kind: core.KindProvider, Message: "internal error"}
	}
	mw.WriteJSONError(w, r, statusForKind(coreErr.Kind), coreErr)
}

func statusForKind(kind core.ErrorKind) int {
	switch kind {
	case core.KindInvalidRequest:
		return http.StatusBadRequest
	case core.KindSessionClosed:
		return http.StatusConflict
	case core.KindProviderRateLimited:
		return http.StatusTooManyRequests
	case core.KindProviderOverloaded, core.KindAllProvidersExhausted, core.KindDeliveryUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
