package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// CORS returns a middleware allowing browser calls from origins. It returns
// nil when origins is empty, meaning cross-origin access stays disabled.
func CORS(origins []string) echo.MiddlewareFunc {
	if len(origins) == 0 {
		return nil
	}
	return echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  origins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		ExposeHeaders: []string{echo.HeaderXRequestID},
		MaxAge:        600,
	})
}
