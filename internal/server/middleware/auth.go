package middleware

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/opinionmkt/opiniond/internal/crypto"
)

// Auth returns middleware that validates API requests using either a Bearer
// token in the Authorization header or a static key in the X-API-Key header.
// If apiKey is empty, the middleware passes all requests through (disabled).
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// If no API key is configured, authentication is disabled.
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}

			// Constant-time comparison to prevent timing attacks.
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeUnauthorized(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// maxSignedBody bounds how much of a request body the signature middleware
// will buffer.
const maxSignedBody = 1 << 20

// signatureSkew is the accepted clock drift on signed request timestamps.
const signatureSkew = 5 * time.Minute

// WalletAuth returns middleware that requires every mutating request to carry
// a wallet signature over the request body. The signature must recover to the
// caller address named in the body, which is what the engine charges and
// credits. Read requests pass through. When disabled, all requests pass
// through.
//
// Expected headers:
//   - X-Wallet-Timestamp: Unix seconds the request was signed at
//   - X-Wallet-Signature: 65-byte hex EIP-191 signature of timestamp+body
func WalletAuth(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled || (r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete) {
				next.ServeHTTP(w, r)
				return
			}

			ts, err := strconv.ParseInt(r.Header.Get("X-Wallet-Timestamp"), 10, 64)
			if err != nil {
				writeUnauthorized(w, "missing or invalid signature timestamp")
				return
			}
			if drift := time.Since(time.Unix(ts, 0)); drift > signatureSkew || drift < -signatureSkew {
				writeUnauthorized(w, "signature timestamp outside accepted window")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				writeUnauthorized(w, "unreadable request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			signer, err := crypto.RecoverCallSigner(ts, body, r.Header.Get("X-Wallet-Signature"))
			if err != nil {
				writeUnauthorized(w, "invalid wallet signature")
				return
			}

			// The signed body must name the recovered address as the caller.
			var envelope struct {
				Caller string `json:"caller"`
			}
			if err := json.Unmarshal(body, &envelope); err != nil ||
				!strings.EqualFold(envelope.Caller, signer.Hex()) {
				writeUnauthorized(w, "signer does not match caller")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AdminAuth returns middleware that requires HMAC-signed requests, intended
// for the privileged route group. If auth is nil, requests pass through.
//
// Expected headers:
//   - X-Admin-Key, X-Admin-Timestamp, X-Admin-Signature
func AdminAuth(auth *crypto.RequestAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				writeUnauthorized(w, "unreadable request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if err := auth.Verify(crypto.SignedRequest{
				Key:       r.Header.Get("X-Admin-Key"),
				Timestamp: r.Header.Get("X-Admin-Timestamp"),
				Signature: r.Header.Get("X-Admin-Signature"),
				Method:    r.Method,
				Path:      r.URL.Path,
				Body:      string(body),
			}, signatureSkew); err != nil {
				writeUnauthorized(w, "invalid admin signature")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	// Check Authorization: Bearer <token>
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	// Check X-API-Key header.
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
