package middleware

import (
	"context"
	"net/http"
	"strings"

	ledgercrypto "github.com/alanyoungcy/marketledger/internal/crypto"
)

type contextKey string

const callerKey contextKey = "caller"

// Identity resolves the caller address for each request and stores it in the
// request context. Callers prove their identity with an Ethereum personal-sign
// signature: X-Ledger-Message carries the signed text and X-Ledger-Signature
// the hex signature, and the address is recovered from the pair. A bare
// X-Ledger-Address header is accepted without proof for trusted deployments
// sitting behind the API token.
//
// Requests without any identity headers pass through with an empty caller;
// operations that require authentication reject those downstream.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := r.Header.Get("X-Ledger-Signature")
			msg := r.Header.Get("X-Ledger-Message")

			if sig != "" && msg != "" {
				addr, err := ledgercrypto.RecoverAddress([]byte(msg), sig)
				if err != nil {
					writeUnauthorized(w, "invalid identity signature")
					return
				}
				next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), addr.Hex())))
				return
			}

			if addr := strings.TrimSpace(r.Header.Get("X-Ledger-Address")); addr != "" {
				next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), addr)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// withCaller returns a context carrying the resolved caller address.
func withCaller(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, callerKey, addr)
}

// CallerFrom returns the caller address resolved by Identity, or "" when the
// request carried no identity.
func CallerFrom(ctx context.Context) string {
	addr, _ := ctx.Value(callerKey).(string)
	return addr
}
