package http

import (
	"context"
	"net/http"

	"tutorledger/internal/core"
	applog "tutorledger/internal/log"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.handleCredentials(w, r, applog.OpRegister, http.StatusCreated, s.accounts.Register)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.handleCredentials(w, r, applog.OpLogin, http.StatusOK, s.accounts.Authenticate)
}

type credentialFunc func(ctx context.Context, email, password string) (core.User, error)

// handleCredentials parses email and password, runs fn and issues a token
// for the resulting user.
func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request, op string, status int, fn credentialFunc) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		writeError(w, r, op, err)
		return
	}
	// Passwords are taken verbatim, only the email is sanitized.
	email := p.Get("email")
	password := rawField(p, "password")

	user, err := fn(r.Context(), email, password)
	if err != nil {
		writeError(w, r, op, err)
		return
	}

	token, expires, err := s.jwt.Generate(user)
	if err != nil {
		writeError(w, r, op, err)
		return
	}

	applog.FromContext(r.Context()).WithComponent(applog.ComponentAuth).InfoContext(r.Context(), "User authenticated",
		applog.FieldOperation, op,
		applog.FieldUserID, user.ID)

	message := "Signed in"
	if status == http.StatusCreated {
		message = "Account created"
	}
	NewJSONResponse().
		Status(status).
		Data(sessionView{Token: token, ExpiresAt: expires, User: newUserView(user)}).
		Success(message).
		Write(w)
}

// rawField returns a field without trimming or sanitizing it.
func rawField(p *RequestBodyParser, key string) string {
	if p.jsonData != nil {
		if v, ok := p.jsonData[key].(string); ok {
			return v
		}
		return ""
	}
	if p.formData != nil {
		return p.formData.Get(key)
	}
	return ""
}
