package handlers

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"storage-guard-server/pkg/config"
	"storage-guard-server/pkg/models"

	"github.com/go-playground/validator/v10"
)

var (
	// Keys are alphanumeric with dots, hyphens, underscores and colons.
	// Colons appear in persisted namespace keys such as "persist:auth".
	validKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)
)

// RequestValidator handles validation of incoming requests
type RequestValidator struct {
	config    *config.Config
	validator *validator.Validate
}

// NewRequestValidator creates a new request validator
func NewRequestValidator(cfg *config.Config) *RequestValidator {
	v := validator.New()

	// Register custom validation for key pattern
	v.RegisterValidation("storage_key", validateKeyPattern)

	return &RequestValidator{
		config:    cfg,
		validator: v,
	}
}

// validateKeyPattern validates that the field contains only alphanumeric characters, dots, hyphens, underscores and colons
func validateKeyPattern(fl validator.FieldLevel) bool {
	return validKeyPattern.MatchString(fl.Field().String())
}

// ValidateItemRequest performs validation on single item write requests
func (v *RequestValidator) ValidateItemRequest(req *models.ItemRequest) error {
	// Performance optimization: use the struct validator for the fast path
	if v.config.PerformanceMode {
		if err := v.validator.Struct(req); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		// Quick value size check without full validation
		if int64(len(req.Value)) > v.config.MaxValueSize {
			return fmt.Errorf("value size (%d bytes) exceeds maximum allowed size (%d bytes)",
				len(req.Value), v.config.MaxValueSize)
		}

		return nil
	}

	// Conservative path: full validation
	if err := v.ValidateKey(req.Key); err != nil {
		return fmt.Errorf("invalid key: %w", err)
	}

	if err := v.ValidateValue(req.Value); err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}

	return nil
}

// ValidateBatchRequest validates a batch write request and every item in it
func (v *RequestValidator) ValidateBatchRequest(req *models.BatchRequest) error {
	if len(req.Items) == 0 {
		return fmt.Errorf("batch must contain at least one item")
	}

	if len(req.Items) > v.config.MaxBatchItems {
		return fmt.Errorf("batch too large (%d items, max %d)", len(req.Items), v.config.MaxBatchItems)
	}

	if err := v.validator.Struct(req); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	for i := range req.Items {
		if int64(len(req.Items[i].Value)) > v.config.MaxValueSize {
			return fmt.Errorf("item %d: value size (%d bytes) exceeds maximum allowed size (%d bytes)",
				i, len(req.Items[i].Value), v.config.MaxValueSize)
		}
	}

	return nil
}

// ValidateKey validates item key format and length
func (v *RequestValidator) ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	if len(key) > v.config.MaxKeyLength {
		return fmt.Errorf("key too long (max %d characters)", v.config.MaxKeyLength)
	}

	if !utf8.ValidString(key) {
		return fmt.Errorf("key contains invalid UTF-8 characters")
	}

	if !validKeyPattern.MatchString(key) {
		return fmt.Errorf("key contains invalid characters (only alphanumeric, dots, hyphens, underscores and colons allowed)")
	}

	// Check for dangerous patterns
	if strings.Contains(key, "..") || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return fmt.Errorf("key contains dangerous path patterns")
	}

	return nil
}

// ValidateValue validates an item value. Values are opaque strings, so only
// presence, encoding and size are checked. JSON envelopes are parsed lazily
// by the cleanup engine and malformed payloads must still be storable.
func (v *RequestValidator) ValidateValue(value string) error {
	if value == "" {
		return fmt.Errorf("value is required")
	}

	if !utf8.ValidString(value) {
		return fmt.Errorf("value contains invalid UTF-8 characters")
	}

	if int64(len(value)) > v.config.MaxValueSize {
		return fmt.Errorf("value size (%d bytes) exceeds maximum allowed size (%d bytes)",
			len(value), v.config.MaxValueSize)
	}

	return nil
}

// ValidatePrefix validates an optional key prefix filter
func (v *RequestValidator) ValidatePrefix(prefix string) error {
	if prefix == "" {
		return nil // Optional field
	}

	if len(prefix) > v.config.MaxKeyLength {
		return fmt.Errorf("prefix too long (max %d characters)", v.config.MaxKeyLength)
	}

	if !utf8.ValidString(prefix) {
		return fmt.Errorf("prefix contains invalid UTF-8 characters")
	}

	if !validKeyPattern.MatchString(prefix) {
		return fmt.Errorf("prefix contains invalid characters")
	}

	return nil
}

// ValidatePaginationParams validates pagination parameters
func (v *RequestValidator) ValidatePaginationParams(limitStr, offsetStr string) (int, int, error) {
	limit := 100 // default limit
	offset := 0  // default offset

	// Validate limit parameter
	if limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid limit parameter: must be a number")
		}
		if parsedLimit <= 0 {
			return 0, 0, fmt.Errorf("invalid limit parameter: must be positive")
		}
		if parsedLimit > v.config.MaxPaginationLimit {
			return 0, 0, fmt.Errorf("invalid limit parameter: maximum allowed is %d", v.config.MaxPaginationLimit)
		}
		limit = parsedLimit
	}

	// Validate offset parameter
	if offsetStr != "" {
		parsedOffset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid offset parameter: must be a number")
		}
		if parsedOffset < 0 {
			return 0, 0, fmt.Errorf("invalid offset parameter: cannot be negative")
		}
		offset = parsedOffset
	}

	return limit, offset, nil
}
