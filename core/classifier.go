package core

import (
	"errors"
	"strings"
)

// ErrorCategory is the closed set of error classes the correction layer knows.
type ErrorCategory string

const (
	NetworkError         ErrorCategory = "NETWORK_ERROR"
	StorageQuotaExceeded ErrorCategory = "STORAGE_QUOTA_EXCEEDED"
	TokenExpired         ErrorCategory = "TOKEN_EXPIRED"
	MissingUserData      ErrorCategory = "MISSING_USER_DATA"
	InvalidJSON          ErrorCategory = "INVALID_JSON"
	ComponentMountFailed ErrorCategory = "COMPONENT_MOUNT_FAILED"
	RateLimitExceeded    ErrorCategory = "RATE_LIMIT_EXCEEDED"
	UnknownError         ErrorCategory = "UNKNOWN_ERROR"
)

// Categories lists every category in classification order, UNKNOWN_ERROR last.
var Categories = []ErrorCategory{
	NetworkError,
	StorageQuotaExceeded,
	TokenExpired,
	RateLimitExceeded,
	InvalidJSON,
	MissingUserData,
	ComponentMountFailed,
	UnknownError,
}

type classifierRule struct {
	category ErrorCategory
	status   int
	patterns []string
}

// Order matters: the first matching rule wins.
var classifierRules = []classifierRule{
	{category: NetworkError, patterns: []string{"network", "fetch", "connection"}},
	{category: StorageQuotaExceeded, patterns: []string{"quota", "storage"}},
	{category: TokenExpired, status: 401, patterns: []string{"token", "unauthorized"}},
	{category: RateLimitExceeded, status: 429, patterns: []string{"rate limit"}},
	{category: InvalidJSON, patterns: []string{"json", "parse"}},
	{category: MissingUserData, patterns: []string{"undefined", "null", "not found"}},
	{category: ComponentMountFailed, patterns: []string{"component", "render"}},
}

type statusCoder interface {
	StatusCode() int
}

// StatusOf returns the HTTP status carried by err or anything it wraps, 0 if none.
func StatusOf(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

// Classify maps an error onto exactly one category. A nil error is UNKNOWN_ERROR.
func Classify(err error) ErrorCategory {
	if err == nil {
		return UnknownError
	}
	return ClassifyMessage(err.Error(), StatusOf(err))
}

// ClassifyMessage classifies a raw message and optional status code.
func ClassifyMessage(message string, status int) ErrorCategory {
	msg := strings.ToLower(message)
	for _, rule := range classifierRules {
		if rule.status != 0 && status == rule.status {
			return rule.category
		}
		for _, p := range rule.patterns {
			if strings.Contains(msg, p) {
				return rule.category
			}
		}
	}
	return UnknownError
}

// ParseCategory converts a string into a known category.
func ParseCategory(s string) (ErrorCategory, bool) {
	c := ErrorCategory(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}
