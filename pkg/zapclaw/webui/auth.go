package webui

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// loginCookie names the HttpOnly cookie carrying the panel token.
const loginCookie = "zapclaw_token"

// passwordHash returns the configured bcrypt hash, empty when the panel
// runs without authentication.
func (s *Server) passwordHash() string {
	return s.store.Settings.GetString("webui_senha_hash", "")
}

// issueToken creates a login token valid for webui_sessao_horas. Expired
// tokens are pruned on each login so the map stays small.
func (s *Server) issueToken() (string, time.Time) {
	ttl := time.Duration(s.store.Settings.GetInt("webui_sessao_horas", 24)) * time.Hour
	token := uuid.NewString()
	expiry := time.Now().Add(ttl)

	s.tokenMu.Lock()
	for t, exp := range s.tokens {
		if time.Now().After(exp) {
			delete(s.tokens, t)
		}
	}
	s.tokens[token] = expiry
	s.tokenMu.Unlock()
	return token, expiry
}

// validToken reports whether the token was issued here and has not expired.
func (s *Server) validToken(token string) bool {
	if token == "" {
		return false
	}
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	exp, ok := s.tokens[token]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(s.tokens, token)
		return false
	}
	return true
}

func (s *Server) dropToken(token string) {
	s.tokenMu.Lock()
	delete(s.tokens, token)
	s.tokenMu.Unlock()
}

// handleAuthLogin exchanges the panel password for a login token.
func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
		return
	}

	var body struct {
		Senha string `json:"senha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "corpo da requisição inválido"})
		return
	}

	hash := s.passwordHash()
	if hash == "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"token":    "",
			"mensagem": "autenticação não exigida",
		})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(body.Senha)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "senha incorreta"})
		return
	}

	token, expiry := s.issueToken()
	http.SetCookie(w, &http.Cookie{
		Name:     loginCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(time.Until(expiry).Seconds()),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"expira_em": expiry.UTC(),
	})
}

// handleAuthStatus reports whether auth is required and whether the
// request already carries a valid token.
func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
		return
	}

	required := s.passwordHash() != ""
	authenticated := !required
	if required {
		authenticated = s.validToken(extractToken(r))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"exige_senha": required,
		"autenticado": authenticated,
	})
}

// handleAuthLogout revokes the token and clears the cookie.
func (s *Server) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
		return
	}

	if token := extractToken(r); token != "" {
		s.dropToken(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     loginCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// extractToken pulls the login token from a request.
// Checks: Authorization header, then query param, then cookie.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if cookie, err := r.Cookie(loginCookie); err == nil {
		return cookie.Value
	}
	return ""
}
