package normalizer

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"policywatch/internal/models"
)

// Validation errors.
var (
	ErrMissingCountryCode  = errors.New("missing country code")
	ErrMissingPolicyType   = errors.New("missing policy type")
	ErrMissingTitle        = errors.New("missing policy title")
	ErrInvalidEncoding     = errors.New("text is not valid UTF-8")
	ErrNegativeProcessing  = errors.New("processing time must be non-negative")
	ErrInvalidCost         = errors.New("cost must be a finite non-negative number")
	ErrInvalidRequirements = errors.New("requirement is not valid UTF-8")
)

// Validator checks raw records before extraction.
type Validator struct{}

// NewValidator creates a new validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks if a raw record meets the minimum requirements for normalization.
func (v *Validator) Validate(rec *models.RawPolicyRecord) error {
	if rec.CountryCode == "" {
		return ErrMissingCountryCode
	}

	if rec.PolicyType == "" {
		return ErrMissingPolicyType
	}

	if rec.Title == "" {
		return ErrMissingTitle
	}

	if !utf8.ValidString(rec.Title) || !utf8.ValidString(rec.Description) {
		return ErrInvalidEncoding
	}

	for i, req := range rec.Requirements {
		if !utf8.ValidString(req) {
			return fmt.Errorf("%w at index %d", ErrInvalidRequirements, i)
		}
	}

	if rec.ProcessingTimeDays != nil && *rec.ProcessingTimeDays < 0 {
		return ErrNegativeProcessing
	}

	if rec.CostUSD != nil {
		c := *rec.CostUSD
		if c < 0 || math.IsNaN(c) || math.IsInf(c, 0) {
			return ErrInvalidCost
		}
	}

	return nil
}
