package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/model-gateway/internal/control"
	"github.com/nulzo/model-gateway/internal/gateway"
	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/selfheal"
	"github.com/nulzo/model-gateway/internal/store"
	"github.com/nulzo/model-gateway/internal/tasks"
	"github.com/nulzo/model-gateway/internal/upstream"
	"github.com/nulzo/model-gateway/pkg/api"
)

// problemFor maps a service error onto an HTTP problem. detail is used for
// errors that have no more specific public description.
func problemFor(err error, detail string) *api.Problem {
	var (
		dispatchErr *gateway.DispatchError
		configErr   *gateway.ConfigError
		statusErr   *upstream.StatusError
		decodeErr   *upstream.DecodeError
	)

	switch {
	case errors.Is(err, gateway.ErrNoProviders):
		msg := err.Error()
		if errors.As(err, &dispatchErr) {
			msg = dispatchErr.Detail()
		}
		return api.NewError(http.StatusServiceUnavailable, "No Provider Available", msg, api.WithLog(err))
	case errors.As(err, &configErr):
		return api.ProviderError(configErr.Error(), err)
	case errors.As(err, &dispatchErr):
		return api.ProviderError(dispatchErr.Detail(), err)
	case errors.As(err, &statusErr), errors.As(err, &decodeErr), upstream.IsNetwork(err),
		errors.Is(err, upstream.ErrMissingBaseURL), errors.Is(err, upstream.ErrMissingCredential):
		return api.ProviderError(err.Error(), err)
	case control.IsNotFound(err), errors.Is(err, store.ErrNotFound):
		return api.NotFoundError(err.Error())
	case errors.Is(err, provider.ErrInvalidConfig), errors.Is(err, tasks.ErrInvalidJob):
		return api.BadRequestError(err.Error())
	case errors.Is(err, selfheal.ErrNoBackups):
		return api.NewError(http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, store.ErrBusy):
		return api.NewError(http.StatusServiceUnavailable, "Store Busy", "The database is busy, retry shortly.", api.WithLog(err))
	}
	return api.InternalError(detail, err)
}

// queryInt parses an optional integer query parameter.
func queryInt(c *gin.Context, name string, def int64) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, api.BadRequestError("Invalid '" + name + "' parameter")
	}
	return v, nil
}
