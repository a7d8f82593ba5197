package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/victormendozamx/crypto-data-aggregator/internal/config"
	"github.com/victormendozamx/crypto-data-aggregator/internal/metrics"
)

// Denial reasons surfaced to the gate.
const (
	ReasonInvalidProof           = "invalid_payment_proof"
	ReasonVerificationFailed     = "verification_failed"
	ReasonFacilitatorUnreachable = "facilitator_unreachable"
)

// VerifyResult is the verifier's translation of a facilitator answer.
type VerifyResult struct {
	OK     bool
	Payer  string
	Amount string
	Reason string
}

// Verifier checks payment proofs against the configured facilitator.
type Verifier struct {
	cfg    config.X402Config
	client *http.Client
}

func NewVerifier(cfg config.X402Config) *Verifier {
	return &Verifier{
		cfg: cfg,
		// Timeout bounds the only multi-second call in the request
		// path; the gate never waits longer than this on a proof.
		client: &http.Client{Timeout: cfg.VerifyTimeout},
	}
}

// Requirement builds the payment requirement for one resource path.
func (v *Verifier) Requirement(resource string) Requirement {
	price := strconv.FormatInt(v.cfg.PriceAtomic, 10)
	return Requirement{
		Scheme:            "exact",
		Network:           v.cfg.Network,
		MaxAmountRequired: price,
		Amount:            price,
		Asset:             v.cfg.Asset,
		PayTo:             v.cfg.PayTo,
		Resource:          resource,
		Description:       "Pay-per-request access to " + resource,
		MaxTimeoutSeconds: 300,
	}
}

// RequiredResponse builds the full 402 body for one resource.
func (v *Verifier) RequiredResponse(resource, message string) *RequiredResponse {
	return &RequiredResponse{
		X402Version: X402Version,
		Error:       message,
		Code:        "payment_required",
		Accepts:     []Requirement{v.Requirement(resource)},
	}
}

type facilitatorRequest struct {
	X402Version         int         `json:"x402Version"`
	PaymentPayload      *Proof      `json:"paymentPayload"`
	PaymentRequirements Requirement `json:"paymentRequirements"`
}

type facilitatorResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
	Amount        string `json:"amount,omitempty"`
}

// Verify submits a proof to the facilitator for the given resource.
// Facilitator unreachability fails closed: a proof that cannot be
// checked never authorizes a request. The returned error is non-nil
// only for that upstream case, alongside a filled-in denial result.
func (v *Verifier) Verify(ctx context.Context, proof *Proof, resource string) (*VerifyResult, error) {
	req := facilitatorRequest{
		X402Version:         X402Version,
		PaymentPayload:      proof,
		PaymentRequirements: v.Requirement(resource),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling verify request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.FacilitatorURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building verify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		metrics.PaymentVerificationsTotal.WithLabelValues("unreachable").Inc()
		slog.Warn("payment facilitator unreachable", "error", err)
		return &VerifyResult{OK: false, Reason: ReasonFacilitatorUnreachable},
			fmt.Errorf("calling facilitator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.PaymentVerificationsTotal.WithLabelValues("error").Inc()
		slog.Warn("payment facilitator returned error", "status", resp.StatusCode)
		return &VerifyResult{OK: false, Reason: ReasonFacilitatorUnreachable},
			fmt.Errorf("facilitator status %d", resp.StatusCode)
	}

	var fr facilitatorResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		metrics.PaymentVerificationsTotal.WithLabelValues("error").Inc()
		return &VerifyResult{OK: false, Reason: ReasonFacilitatorUnreachable},
			fmt.Errorf("decoding facilitator response: %w", err)
	}

	if !fr.IsValid {
		metrics.PaymentVerificationsTotal.WithLabelValues("rejected").Inc()
		reason := fr.InvalidReason
		if reason == "" {
			reason = ReasonVerificationFailed
		}
		return &VerifyResult{OK: false, Reason: reason}, nil
	}

	metrics.PaymentVerificationsTotal.WithLabelValues("verified").Inc()
	payer := fr.Payer
	if payer == "" {
		payer = proof.Payload.Authorization.From
	}
	amount := fr.Amount
	if amount == "" {
		amount = proof.Payload.Authorization.Amount
	}
	return &VerifyResult{OK: true, Payer: payer, Amount: amount}, nil
}

// Healthy probes the facilitator's liveness endpoint. Used by the
// service readiness check, never by the authorization path.
func (v *Verifier) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.FacilitatorURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
