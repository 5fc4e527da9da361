package logger

import "strings"

// RedactEmail masks the local part of an address for log output.
// "jane.doe@example.com" becomes "ja***@example.com"; local parts of two characters or fewer are fully masked.
func RedactEmail(email string) string {
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) != 2 || parts[1] == "" {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}
