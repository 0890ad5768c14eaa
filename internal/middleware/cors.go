// Package middleware provides HTTP middleware for the phonedesk API.
package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// PermissiveCORS accepts every origin, method and header and allows
// credentials. The request origin is echoed back, since browsers reject a
// literal "*" together with credentials.
func PermissiveCORS() func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowOriginFunc: func(origin string) bool { return true },
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           600,
	})
	return c.Handler
}
