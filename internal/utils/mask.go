package utils

import "strings"

// MaskSecret keeps a short prefix of s so logs can tell secrets apart
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", 5)
	}
	return s[:4] + strings.Repeat("*", 5)
}
