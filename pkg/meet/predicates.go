package meet

import (
	"context"
	"fmt"
	"strconv"

	"github.com/thesyncim/meetsuite/pkg/driver"
	"github.com/thesyncim/meetsuite/pkg/heartbeat"
	"github.com/thesyncim/meetsuite/pkg/predicate"
)

// Page hooks read by the predicates below.
const (
	joinedScript     = "return !!(window.meet && window.meet.isJoined())"
	iceScript        = "return !!(window.meet && window.meet.isIceConnected())"
	lockedScript     = "return !!(window.meet && window.meet.isLocked())"
	moderatorScript  = "return !!(window.meet && window.meet.isModerator())"
	uploadingScript  = "return !!window.meet && window.meet.uploadBitrate() >= arguments[0]"
	dominantScript   = "return window.meet ? window.meet.dominantSpeaker() : ''"
	uploadRateScript = "return window.meet ? window.meet.uploadBitrate() : 0"
)

// Joined is met once the server accepted the participant.
func Joined() predicate.Predicate {
	return predicate.Script(joinedScript)
}

// IceConnected is met while the participant's media connection is up.
func IceConnected() predicate.Predicate {
	return predicate.Script(iceScript)
}

// Moderator is met when the participant moderates the room.
func Moderator() predicate.Predicate {
	return predicate.Script(moderatorScript)
}

// AudioMuted is met when id's tile shows the given audio state.
func AudioMuted(id string, muted bool) predicate.Predicate {
	return predicate.AttributeEquals(Tile(id), "data-audio-muted", strconv.FormatBool(muted))
}

// VideoMuted is met when id's tile shows the given video state.
func VideoMuted(id string, muted bool) predicate.Predicate {
	return predicate.AttributeEquals(Tile(id), "data-video-muted", strconv.FormatBool(muted))
}

// DisplayName is met when id's tile shows name.
func DisplayName(id, name string) predicate.Predicate {
	return predicate.TextEquals(TileName(id), name)
}

// Avatar is met when id's tile shows the image at url.
func Avatar(id, url string) predicate.Predicate {
	return predicate.AttributeEquals(TileAvatar(id), "src", url)
}

// DominantSpeaker is met when the room's dominant speaker is id.
func DominantSpeaker(id string) predicate.Predicate {
	return predicate.ScriptEquals(dominantScript, id)
}

// ParticipantCount is met when the roster shows n participants.
func ParticipantCount(n int) predicate.Predicate {
	return predicate.Count(Tiles, n)
}

// PasswordPrompt is met when the page asks for the room password.
func PasswordPrompt() predicate.Predicate {
	return predicate.Visible(PasswordDialog)
}

// ConferenceFull is met when the page reports the room is full.
func ConferenceFull() predicate.Predicate {
	return predicate.Visible(ConferenceFullDialog)
}

// ShuttingDown is met when the page reports the server is going away.
func ShuttingDown() predicate.Predicate {
	return predicate.Visible(ShutdownDialog)
}

// Left is met once the page confirms the participant hung up.
func Left() predicate.Predicate {
	return predicate.Visible(LeftDialog)
}

// Locked is met when the room's lock state is locked.
func Locked(locked bool) predicate.Predicate {
	return predicate.ScriptEquals(lockedScript, locked)
}

// Uploading is met when the participant sends at least minKbps.
func Uploading(minKbps int) predicate.Predicate {
	return predicate.Script(uploadingScript, minKbps)
}

// Check turns pred into a heartbeat check that evaluates it once per round
// against d.
func Check(name string, tolerance int, d driver.Driver, pred predicate.Predicate) heartbeat.Check {
	cond := pred(d)
	return heartbeat.Check{
		Name:      name,
		Tolerance: tolerance,
		Func: func(ctx context.Context) error {
			met, observed, err := cond.Func(ctx)
			if err != nil {
				return err
			}
			if !met {
				return fmt.Errorf("%s not met (observed %v)", cond.Name, observed)
			}
			return nil
		},
	}
}

// HeartbeatChecks are the long-lived health checks of one participant. ICE
// and membership must hold every round; the upload bitrate may dip below
// minKbps twice in a row.
func (p *Participant) HeartbeatChecks(minKbps int) []heartbeat.Check {
	d := p.Session.Driver
	role := p.Session.Role
	return []heartbeat.Check{
		Check(role+" ice", 0, d, IceConnected()),
		Check(role+" joined", 0, d, Joined()),
		Check(role+" bitrate", 2, d, Uploading(minKbps)),
	}
}

// UploadBitrate returns the participant's current upload rate in kbps.
func (p *Participant) UploadBitrate(ctx context.Context) (float64, error) {
	v, err := p.Session.Eval(ctx, uploadRateScript)
	if err != nil {
		return 0, err
	}
	rate, _ := v.(float64)
	return rate, nil
}
