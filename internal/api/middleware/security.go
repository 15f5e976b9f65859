package middleware

import (
	"mime"
	"net/http"
	"strings"
)

const (
	contentJSON   = "application/json"
	contentBinary = "application/octet-stream"

	maxIDLength = 128
)

// writeBodies maps each POST route to the body it accepts. POST /recover/{id}
// takes no body.
var writeBodies = map[string]string{
	"/":         contentJSON,   // data item
	"/message":  contentJSON,   // data item
	"/process":  contentJSON,   // data item
	"/recover":  contentBinary, // bundle binary
}

// idRoutes are read routes whose last path segment is an entity or ledger id.
var idRoutes = []string{"/messages/", "/message/", "/processes/", "/recover/"}

// SecurityHeaders sets headers for a JSON-only API.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// MaxBodySize rejects declared bodies above maxBytes and caps undeclared ones.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				jsonError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// ValidateRequest checks each route's body type and the shape of the ids and
// cursors it carries, before any handler reads them.
func ValidateRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if status, msg := checkWriteBody(r); status != 0 {
				jsonError(w, status, msg)
				return
			}
		}

		for _, prefix := range idRoutes {
			if id, ok := strings.CutPrefix(r.URL.Path, prefix); ok && id != "" && !validID(id) {
				jsonError(w, http.StatusBadRequest, "invalid identifier")
				return
			}
		}

		q := r.URL.Query()
		for _, name := range []string{"from", "to"} {
			if v := q.Get(name); v != "" && !validID(v) {
				jsonError(w, http.StatusBadRequest, "invalid cursor "+name)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func checkWriteBody(r *http.Request) (int, string) {
	want, known := writeBodies[r.URL.Path]
	if !known {
		if strings.HasPrefix(r.URL.Path, "/recover/") && r.ContentLength > 0 {
			return http.StatusBadRequest, "recover by id takes no body"
		}
		return 0, ""
	}
	if r.ContentLength == 0 {
		return 0, ""
	}
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != want {
		return http.StatusUnsupportedMediaType, "content-type must be " + want
	}
	return 0, ""
}

// validID accepts CIDs, signature ids and sequence keys: base32, base64url or
// Crockford characters only.
func validID(s string) bool {
	if len(s) > maxIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `","kind":"input"}`))
}
