package domain

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const referencePrefix = "EVNT"

// NewReferenceID returns a display reference such as EVNT3FA29C01BE.
func NewReferenceID() string {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return referencePrefix + strings.ToUpper(hex.EncodeToString(b))
}

func FeeReference(eventID string) string {
	return "FEE-" + eventID
}
