package services

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const MaxMessageLength = 1000

// suspiciousPatterns is a best-effort prompt-injection pre-filter. It is not
// a security boundary.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+previous\s+instructions`),
	regexp.MustCompile(`(?i)你是.*(?:助手|AI)`),
	regexp.MustCompile(`(?i)you\s+are\s+(?:an?\s+)?(?:assistant|AI)`),
	regexp.MustCompile(`(?i)forget\s+everything`),
}

// ValidateMessage checks a chat message before anything is sent upstream.
// Length is counted in characters, not bytes.
func ValidateMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return &ValidationError{Reason: ReasonEmpty, Message: "Please enter a valid question"}
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return &ValidationError{Reason: ReasonTooLong, Message: "Message is too long, please keep it within 1000 characters"}
	}
	for _, p := range suspiciousPatterns {
		if p.MatchString(message) {
			return &ValidationError{Reason: ReasonSuspicious, Message: "Please ask a normal question without special instructions"}
		}
	}
	return nil
}
