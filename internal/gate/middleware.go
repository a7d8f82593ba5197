package gate

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/victormendozamx/crypto-data-aggregator/internal/api"
	"github.com/victormendozamx/crypto-data-aggregator/internal/keys"
	"github.com/victormendozamx/crypto-data-aggregator/internal/payment"
	"github.com/victormendozamx/crypto-data-aggregator/internal/ratelimit"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authorized identity attached to an allowed request.
type Principal struct {
	Via Via
	ID  string
	Key *keys.ApiKey
}

// GetPrincipal returns the request's principal, or nil outside the gate.
func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// CredentialsFromRequest extracts the gate's inputs from a request:
// X-API-Key header or api_key query param, the X-PAYMENT proof header,
// and the client IP.
func CredentialsFromRequest(r *http.Request) Credentials {
	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		apiKey = r.URL.Query().Get("api_key")
	}
	return Credentials{
		APIKey:       apiKey,
		PaymentProof: r.Header.Get(payment.ProofHeader),
		ClientIP:     ratelimit.ClientIP(r),
	}
}

// Middleware authorizes every request through the gate. Handlers
// behind it only ever see allowed requests with a principal in
// context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := g.Authorize(r.Context(), CredentialsFromRequest(r), r.URL.Path)

		if !decision.Allowed {
			writeDenial(w, decision)
			return
		}

		switch decision.Via {
		case ViaKey:
			setQuotaHeaders(w, decision)
		case ViaPayment:
			w.Header().Set(payment.ConfirmedHeader, "true")
			// Echo the settled amount so paying clients can reconcile.
			if decision.AmountPaid != "" {
				w.Header().Set(payment.AmountHeader, decision.AmountPaid)
			}
		}

		principal := &Principal{Via: decision.Via, ID: decision.Principal, Key: decision.Key}
		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireKey authorizes key-bearing requests only; payment proofs are
// not accepted on this surface, so failures are 401 rather than 402.
// Used for key self-service endpoints like usage reporting.
func (g *Gate) RequireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred := CredentialsFromRequest(r)
		cred.PaymentProof = ""

		if cred.APIKey == "" {
			api.HandleError(w, api.ErrUnauthorized)
			return
		}

		decision := g.Authorize(r.Context(), cred, r.URL.Path)
		if !decision.Allowed {
			if decision.Denial != nil && decision.Denial.Err == api.ErrPaymentRequired {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}
			writeDenial(w, decision)
			return
		}

		setQuotaHeaders(w, decision)
		principal := &Principal{Via: decision.Via, ID: decision.Principal, Key: decision.Key}
		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeDenial(w http.ResponseWriter, decision *Decision) {
	denial := decision.Denial
	if denial == nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	if denial.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(denial.RetryAfter.Round(time.Second).Seconds())))
	}
	if !decision.ResetAt.IsZero() {
		setQuotaHeaders(w, decision)
	}

	if denial.Payment != nil {
		w.Header().Set(payment.RequirementsHeader, payment.EncodeRequirements(denial.Payment))
		api.JSONRaw(w, denial.Err.Status, denial.Payment)
		return
	}

	api.JSONError(w, denial.Err)
}

func setQuotaHeaders(w http.ResponseWriter, decision *Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
}
