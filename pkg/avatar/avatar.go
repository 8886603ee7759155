// Package avatar maps participant email addresses to avatar images.
package avatar

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Default is shown for participants without an email address.
const Default = "/static/avatar.svg"

// URL returns the Gravatar image for email, or Default when email is blank.
// Gravatar hashes the trimmed, lowercased address.
func URL(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return Default
	}
	sum := md5.Sum([]byte(email))
	return "https://www.gravatar.com/avatar/" + hex.EncodeToString(sum[:]) + "?d=identicon"
}
