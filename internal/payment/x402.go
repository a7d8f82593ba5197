// Package payment verifies x402 micropayment proofs against an
// external facilitator. The facilitator owns all cryptographic and
// ledger checks (including replay protection via the authorization
// nonce); this package shapes requests, bounds latency, and maps the
// facilitator's answers into the gate's vocabulary.
package payment

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// X402Version is the protocol version this gateway speaks.
const X402Version = 2

// Header names on the wire.
const (
	ProofHeader        = "X-PAYMENT"
	RequirementsHeader = "X-PAYMENT-REQUIRED"
	ConfirmedHeader    = "X-Payment-Confirmed"
	AmountHeader       = "X-Payment-Amount"
)

// Authorization is the EIP-3009 transfer authorization inside a proof.
type Authorization struct {
	From        string `json:"from" validate:"required,eth_addr"`
	To          string `json:"to" validate:"required,eth_addr"`
	Asset       string `json:"asset" validate:"required,eth_addr"`
	Amount      string `json:"amount" validate:"required,number"`
	Nonce       string `json:"nonce" validate:"required"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore" validate:"required"`
}

// ProofPayload is the signed portion of a payment proof.
type ProofPayload struct {
	Signature     string        `json:"signature" validate:"required"`
	Authorization Authorization `json:"authorization" validate:"required"`
}

// Proof is one decoded X-PAYMENT header. A proof authorizes exactly one
// request and is never persisted.
type Proof struct {
	X402Version int          `json:"x402Version" validate:"required"`
	Scheme      string       `json:"scheme" validate:"required"`
	Network     string       `json:"network" validate:"required"`
	Payload     ProofPayload `json:"payload" validate:"required"`
}

// Requirement describes how to pay for one resource. It is both what
// gets sent to the facilitator alongside a proof and what a 402
// response advertises to clients.
type Requirement struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	// Amount mirrors MaxAmountRequired; deployed client SDKs read the
	// short name when constructing a proof.
	Amount            string `json:"amount"`
	Asset             string `json:"asset"`
	PayTo             string `json:"payTo"`
	Resource          string `json:"resource"`
	Description       string `json:"description,omitempty"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds,omitempty"`
}

// RequiredResponse is the 402 body: everything a client needs to
// construct a valid proof and retry.
type RequiredResponse struct {
	X402Version int           `json:"x402Version"`
	Error       string        `json:"error"`
	Code        string        `json:"code"`
	Accepts     []Requirement `json:"accepts"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeProof parses a base64-encoded X-PAYMENT header value and
// validates its shape before any network round trip.
func DecodeProof(header string) (*Proof, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("decoding payment header: %w", err)
	}

	var proof Proof
	if err := json.Unmarshal(raw, &proof); err != nil {
		return nil, fmt.Errorf("parsing payment payload: %w", err)
	}
	if err := validate.Struct(&proof); err != nil {
		return nil, fmt.Errorf("invalid payment payload: %w", err)
	}
	if proof.X402Version != X402Version {
		return nil, fmt.Errorf("unsupported x402 version %d", proof.X402Version)
	}
	return &proof, nil
}

// EncodeRequirements renders the payment requirements for the
// X-PAYMENT-REQUIRED response header.
func EncodeRequirements(resp *RequiredResponse) string {
	data, _ := json.Marshal(resp)
	return base64.StdEncoding.EncodeToString(data)
}
