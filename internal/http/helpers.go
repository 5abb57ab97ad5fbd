package http

import (
	"net/http"
	"strings"

	"tutorledger/internal/auth"
	"tutorledger/internal/core"
)

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// userID is the authenticated owner of the request, empty when anonymous.
func userID(r *http.Request) string {
	return auth.UserID(r.Context())
}

func errAuth() error { return core.ErrAuthRequired }
