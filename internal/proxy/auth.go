package proxy

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// bearerToken extracts the credential from an "Authorization: Bearer <t>"
// header. The scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AuthMiddleware guards the query API with a shared bearer token. tokens may
// hold several comma-separated values so a token can be rotated without
// downtime. A missing or malformed header yields 401 and a token that matches
// none of the accepted values yields 403.
func AuthMiddleware(tokens string) func(http.Handler) http.Handler {
	var accepted [][]byte
	for t := range strings.SplitSeq(tokens, ",") {
		if t = strings.TrimSpace(t); t != "" {
			accepted = append(accepted, []byte(t))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="modelmux"`)
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			// Compare against every accepted token so timing does not reveal
			// which one matched.
			match := 0
			for _, want := range accepted {
				match |= subtle.ConstantTimeCompare([]byte(provided), want)
			}
			if match != 1 {
				writeJSONError(w, http.StatusForbidden, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
