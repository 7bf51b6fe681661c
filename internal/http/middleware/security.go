// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, the hardening middleware for the
// coordination API. The API is JSON-only and identity-sensitive: pairing
// responses reveal which chat ids are talking to each other, so responses
// are marked uncacheable unless a route opts out, and browser-facing
// headers assume no HTML is ever served.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures the headers emitted by SecurityHeaders.
//
// EnableHSTS emits Strict-Transport-Security for HTTPS requests only; leave
// it off unless traffic is TLS end-to-end, proxy hop included. HSTSMaxAge
// defaults to 180 days when unset.
//
// AllowCaching suppresses the Cache-Control: no-store posture. Pairing and
// waiting-list responses name users; keep this false anywhere they are
// served.
//
// EnablePolicy adds the browser feature restrictions. They only matter to
// user agents and cost nothing for bot or CLI clients.
type SecurityOptions struct {
	EnableHSTS   bool
	HSTSMaxAge   time.Duration
	AllowCaching bool
	EnablePolicy bool
}

// SecurityHeaders returns a Gin middleware attaching the security headers
// for the coordination API.
//
// Always set: X-Content-Type-Options: nosniff, X-Frame-Options: DENY,
// Referrer-Policy: no-referrer. Unless AllowCaching: Cache-Control:
// no-store (plus the legacy Pragma/Expires pair). With EnablePolicy: a
// deny-everything Content-Security-Policy (the API serves no HTML),
// Permissions-Policy and X-Permitted-Cross-Domain-Policies. With
// EnableHSTS, and only over HTTPS: Strict-Transport-Security.
//
// When an earlier middleware stamped X-Request-ID onto the response, it is
// appended to Access-Control-Expose-Headers so browser clients can read the
// correlation id.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hstsValue := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		// Who-is-paired-with-whom must never land in a shared cache.
		if !opt.AllowCaching {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}

		if opt.EnablePolicy {
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hstsValue)
		}

		if rid := h.Get("X-Request-ID"); rid != "" {
			const hdr = "Access-Control-Expose-Headers"
			if cur := h.Get(hdr); cur == "" {
				h.Set(hdr, "X-Request-ID")
			} else if !strings.Contains(cur, "X-Request-ID") {
				h.Set(hdr, cur+", X-Request-ID")
			}
		}

		c.Next()
	}
}

// isHTTPS reports whether the request arrived over TLS, directly or via a
// proxy that set X-Forwarded-Proto.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
