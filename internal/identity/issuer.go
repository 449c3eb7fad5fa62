package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	id "tipline/pkg/domain"
	dErrors "tipline/pkg/domainerrors"
	"tipline/pkg/sentinel"
)

// receiptDigits is the length of a receipt code. 16 random decimal digits give
// ~53 bits of entropy, which at realistic submission volumes keeps the
// guessing probability negligible while staying typable from paper.
const receiptDigits = 16

// issueAttempts bounds collision retries at issue time. With 10^16 codes a
// collision is already vanishingly rare; the bound is for store faults.
const issueAttempts = 5

// ErrInvalidReceipt is the single error for malformed and unknown codes. The
// two cases must not be distinguishable by message or code.
var ErrInvalidReceipt = dErrors.New(dErrors.CodeInvalidReceipt, "invalid receipt")

// Index is the receipt lookup surface the issuer needs from the tip store.
type Index interface {
	ReceiptExists(ctx context.Context, receipt string) (bool, error)
	ResolveReceipt(ctx context.Context, receipt string) (id.TipID, error)
}

// Issuer mints and resolves whistleblower receipt codes. Codes are bearer
// capabilities: generation uses crypto/rand only, so a code carries no
// information about tip content, time, or issue order.
type Issuer struct {
	index Index
}

func NewIssuer(index Index) *Issuer {
	return &Issuer{index: index}
}

// Issue generates a fresh receipt code, collision-checked against the index.
// The returned code is not yet bound to a tip; binding happens inside the
// submission transaction.
func (i *Issuer) Issue(ctx context.Context) (string, error) {
	for attempt := 0; attempt < issueAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return "", fmt.Errorf("generate receipt: %w", err)
		}
		exists, err := i.index.ReceiptExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check receipt collision: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", dErrors.New(dErrors.CodeUnavailable, "could not issue receipt")
}

// Resolve maps a presented receipt code to its tip id. Presentation formatting
// (spaces, hyphens, 4-digit grouping) is stripped first. Malformed input is
// normalized to a code that cannot exist and still goes through the same index
// lookup, so the malformed and unknown paths are indistinguishable in timing
// and result.
func (i *Issuer) Resolve(ctx context.Context, presented string) (id.TipID, error) {
	code := Normalize(presented)
	if !wellFormed(code) {
		// A code outside the alphabet can never be in the index; looking up a
		// fixed impossible key keeps the work identical to the unknown case.
		code = strings.Repeat("x", receiptDigits)
	}
	tipID, err := i.index.ResolveReceipt(ctx, code)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return id.TipID{}, ErrInvalidReceipt
		}
		return id.TipID{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "receipt lookup failed")
	}
	return tipID, nil
}

// Normalize strips the whitespace and hyphens a user may carry over from the
// displayed 4-digit grouping.
func Normalize(presented string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-':
			return -1
		}
		return r
	}, presented)
}

// Format groups a code for display, matching how it is shown once and never
// again.
func Format(code string) string {
	var b strings.Builder
	for i := 0; i < len(code); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := i + 4
		if end > len(code) {
			end = len(code)
		}
		b.WriteString(code[i:end])
	}
	return b.String()
}

func wellFormed(code string) bool {
	if len(code) != receiptDigits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func generateCode() (string, error) {
	var b strings.Builder
	b.Grow(receiptDigits)
	for range receiptDigits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
