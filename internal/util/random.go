// Package util provides utility functions for the VentaBot application.
package util

import (
	"math/rand"
	"strings"
)

// DefaultPasswordLength is the length of generated hotspot passwords.
// Customers type these on a captive portal, so short and lowercase wins.
const DefaultPasswordLength = 6

// GenerateRandomPassword generates a random lowercase alphanumeric password
// of the specified length, suitable for hotspot credentials.
func GenerateRandomPassword(length int) string {
	if length <= 0 {
		return ""
	}

	const chars = "abcdefghijklmnopqrstuvwxyz0123456789"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(chars[rand.Intn(len(chars))])
	}

	return builder.String()
}

// GenerateHotspotPassword generates a password with the default length.
func GenerateHotspotPassword() string {
	return GenerateRandomPassword(DefaultPasswordLength)
}
