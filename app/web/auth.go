package web

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// authUser is the basic auth user name
const authUser = "stdcap"

// authMiddleware checks basic auth against bcrypt password hash
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if ok && username == authUser {
			if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="stdcap"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}
