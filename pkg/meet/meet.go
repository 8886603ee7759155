// Package meet holds page objects for the fixture's meeting page. Tests join
// rooms through a Conference and wait on the predicates defined here.
package meet

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/thesyncim/meetsuite/pkg/avatar"
	"github.com/thesyncim/meetsuite/pkg/driver"
)

// Page elements.
var (
	ToggleAudioButton = driver.CSS("#toggle-audio")
	ToggleVideoButton = driver.CSS("#toggle-video")
	LockRoomButton    = driver.CSS("#lock-room")
	HangupButton      = driver.CSS("#hangup")

	DisplayNameInput = driver.CSS("#display-name-input")
	EmailInput       = driver.CSS("#email-input")

	PasswordDialog = driver.CSS("#password-dialog")
	PasswordInput  = driver.CSS("#password-input")
	PasswordSubmit = driver.CSS("#password-submit")

	LockDialog        = driver.CSS("#lock-dialog")
	LockPasswordInput = driver.CSS("#lock-password-input")
	LockSubmit        = driver.CSS("#lock-submit")

	ConferenceFullDialog = driver.CSS("#conference-full-dialog")
	ShutdownDialog       = driver.CSS("#shutdown-dialog")
	LeftDialog           = driver.CSS("#left-dialog")

	// Tiles matches one tile per participant in the roster.
	Tiles = driver.CSS("#tiles .tile")
)

// Tile locates the roster tile of participant id.
func Tile(id string) driver.Locator {
	return driver.CSS("#participant-" + id)
}

// TileName locates the display name shown on id's tile.
func TileName(id string) driver.Locator {
	return driver.CSS("#participant-" + id + " .display-name")
}

// TileAvatar locates the avatar image on id's tile.
func TileAvatar(id string) driver.Locator {
	return driver.CSS("#participant-" + id + " img.avatar")
}

// Fragment is the URL fragment the page reads its initial settings from,
// e.g. #config.startAudioMuted=true&userInfo.displayName="Alice".
type Fragment struct {
	StartAudioMuted bool
	StartVideoMuted bool
	DisplayName     string
	Email           string
}

// String encodes f, including the leading '#'. The zero Fragment encodes
// to the empty string.
func (f Fragment) String() string {
	var parts []string
	if f.StartAudioMuted {
		parts = append(parts, "config.startAudioMuted=true")
	}
	if f.StartVideoMuted {
		parts = append(parts, "config.startVideoMuted=true")
	}
	if f.DisplayName != "" {
		parts = append(parts, "userInfo.displayName="+escape(jsonString(f.DisplayName)))
	}
	if f.Email != "" {
		parts = append(parts, "userInfo.email="+escape(jsonString(f.Email)))
	}
	if len(parts) == 0 {
		return ""
	}
	return "#" + strings.Join(parts, "&")
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// escape percent-encodes s for decodeURIComponent, which does not treat '+'
// as a space.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// DefaultAvatar is the avatar of a participant without an email address.
const DefaultAvatar = avatar.Default

// GravatarURL returns the avatar the fixture shows for email.
func GravatarURL(email string) string {
	return avatar.URL(email)
}
