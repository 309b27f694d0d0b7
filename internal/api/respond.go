package api

import (
	"net/http"

	"github.com/ignite/bidguard/internal/pkg/httputil"
	"github.com/ignite/bidguard/internal/service/recommendation"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	httputil.JSON(w, status, data)
}

func respondError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// resultStatus is the HTTP status for a single action result.
func resultStatus(res recommendation.Result) int {
	if res.OK {
		return http.StatusOK
	}
	return httputil.StatusForCode(res.Code)
}
