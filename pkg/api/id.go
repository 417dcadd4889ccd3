package api

import (
	"strings"

	"github.com/google/uuid"
)

const (
	threadIDPrefix  = "thr_"
	messageIDPrefix = "msg_"
	keyIDPrefix     = "key_"
	auditIDPrefix   = "aud_"
)

// NewThreadID generates a thread ID: "thr_" followed by a random UUID.
func NewThreadID() string { return threadIDPrefix + uuid.NewString() }

// NewMessageID generates a message ID: "msg_" followed by a random UUID.
func NewMessageID() string { return messageIDPrefix + uuid.NewString() }

// NewKeyID generates an API key ID: "key_" followed by a random UUID.
func NewKeyID() string { return keyIDPrefix + uuid.NewString() }

// NewAuditID generates an audit entry ID: "aud_" followed by a random UUID.
func NewAuditID() string { return auditIDPrefix + uuid.NewString() }

// ValidateThreadID reports whether id has the thread prefix and a valid UUID.
func ValidateThreadID(id string) bool { return validPrefixedUUID(id, threadIDPrefix) }

// ValidateKeyID reports whether id has the key prefix and a valid UUID.
func ValidateKeyID(id string) bool { return validPrefixedUUID(id, keyIDPrefix) }

func validPrefixedUUID(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil && len(rest) == 36
}
