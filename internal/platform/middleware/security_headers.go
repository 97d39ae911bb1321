package middleware

import (
	"github.com/labstack/echo/v4"
)

const (
	apiCSP  = "default-src 'none'; frame-ancestors 'none'"
	docsCSP = "default-src 'none'; script-src 'unsafe-inline' https://unpkg.com; " +
		"style-src 'unsafe-inline' https://unpkg.com; img-src 'self' data:; connect-src 'self'; frame-ancestors 'none'"
)

// SecurityHeaders sets response headers for a JSON/XML API. Routes listed in
// htmlPaths serve an HTML page and get a policy that lets it load the
// Swagger UI bundle.
func SecurityHeaders(htmlPaths ...string) echo.MiddlewareFunc {
	html := make(map[string]bool, len(htmlPaths))
	for _, p := range htmlPaths {
		html[p] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			if html[c.Path()] {
				h.Set("Content-Security-Policy", docsCSP)
			} else {
				h.Set("Content-Security-Policy", apiCSP)
				// Exports and backups carry private notes.
				h.Set("Cache-Control", "no-store")
			}
			return next(c)
		}
	}
}
