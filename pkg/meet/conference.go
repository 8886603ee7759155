package meet

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/thesyncim/meetsuite/pkg/driver"
	"github.com/thesyncim/meetsuite/pkg/poll"
	"github.com/thesyncim/meetsuite/pkg/predicate"
	"github.com/thesyncim/meetsuite/pkg/session"
)

// Conference is one room on a fixture server, joined by sessions of an
// orchestrator.
type Conference struct {
	Orch    *session.Orchestrator
	BaseURL string
	Room    string

	// Browser is used for every participant's launch.
	Browser driver.Options

	// Poll bounds the waits done by Join and by participants. Nil uses the
	// poll defaults.
	Poll *poll.Options
}

// NewConference returns a conference in a fresh torture<N> room.
func NewConference(orch *session.Orchestrator, baseURL string) *Conference {
	return &Conference{
		Orch:    orch,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Room:    fmt.Sprintf("torture%d", uuid.New().ID()),
		Browser: driver.DefaultOptions(),
	}
}

// URL returns the room's address with f as its fragment.
func (c *Conference) URL(f Fragment) string {
	return c.BaseURL + "/" + c.Room + f.String()
}

// JoinOptions configures Conference.Join.
type JoinOptions struct {
	Fragment Fragment

	// NoWait returns as soon as the page is open, for joins that are
	// expected to be refused.
	NoWait bool
}

// Join opens the room for role and waits until the page reports the
// participant joined.
func (c *Conference) Join(ctx context.Context, role string, opts JoinOptions) (*Participant, error) {
	s, err := c.Orch.Start(ctx, role, session.StartOptions{
		URL:     c.URL(opts.Fragment),
		Browser: c.Browser,
	})
	if err != nil {
		return nil, err
	}
	p := &Participant{Session: s, Poll: c.Poll}
	if opts.NoWait {
		return p, nil
	}
	if _, err := p.WaitUntil(ctx, Joined()); err != nil {
		return nil, fmt.Errorf("join %s: %w", c.Room, err)
	}
	if err := p.RefreshID(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Participant returns the page object of a running role.
func (c *Conference) Participant(ctx context.Context, role string) (*Participant, error) {
	s, err := c.Orch.Get(role)
	if err != nil {
		return nil, err
	}
	p := &Participant{Session: s, Poll: c.Poll}
	if err := p.RefreshID(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Participant is one browser in a conference.
type Participant struct {
	Session *session.Session

	// ID is the participant id assigned by the server, empty until joined.
	ID string

	Poll *poll.Options
}

// RefreshID reads the participant id from the page.
func (p *Participant) RefreshID(ctx context.Context) error {
	v, err := p.Session.Eval(ctx, "return window.meet ? window.meet.myId() : null")
	if err != nil {
		return fmt.Errorf("%s: read participant id: %w", p.Session.Role, err)
	}
	id, _ := v.(string)
	if id == "" {
		return fmt.Errorf("%s: not joined", p.Session.Role)
	}
	p.ID = id
	return nil
}

// WaitUntil polls pred against the participant's page.
func (p *Participant) WaitUntil(ctx context.Context, pred predicate.Predicate) (*poll.Outcome, error) {
	return p.Session.WaitUntil(ctx, pred, p.Poll)
}

// ToggleAudio mutes or unmutes the microphone.
func (p *Participant) ToggleAudio(ctx context.Context) error {
	return p.click(ctx, ToggleAudioButton)
}

// ToggleVideo stops or starts the camera.
func (p *Participant) ToggleVideo(ctx context.Context) error {
	return p.click(ctx, ToggleVideoButton)
}

// SetDisplayName replaces the participant's display name.
func (p *Participant) SetDisplayName(ctx context.Context, name string) error {
	return p.typeInto(ctx, DisplayNameInput, name)
}

// SetEmail replaces the participant's email, which selects the avatar.
func (p *Participant) SetEmail(ctx context.Context, email string) error {
	return p.typeInto(ctx, EmailInput, email)
}

// Lock protects the room with password. Only the moderator may lock.
func (p *Participant) Lock(ctx context.Context, password string) error {
	if err := p.click(ctx, LockRoomButton); err != nil {
		return err
	}
	if err := p.typeInto(ctx, LockPasswordInput, password); err != nil {
		return err
	}
	return p.click(ctx, LockSubmit)
}

// Unlock removes the room password.
func (p *Participant) Unlock(ctx context.Context) error {
	return p.Lock(ctx, "")
}

// SubmitPassword answers the password prompt of a locked room.
func (p *Participant) SubmitPassword(ctx context.Context, password string) error {
	if err := p.typeInto(ctx, PasswordInput, password); err != nil {
		return err
	}
	return p.click(ctx, PasswordSubmit)
}

// Hangup leaves the conference. The browser keeps running.
func (p *Participant) Hangup(ctx context.Context) error {
	return p.click(ctx, HangupButton)
}

func (p *Participant) click(ctx context.Context, loc driver.Locator) error {
	if err := p.Session.Driver.Click(ctx, loc); err != nil {
		return fmt.Errorf("%s: click %s: %w", p.Session.Role, loc, err)
	}
	return nil
}

func (p *Participant) typeInto(ctx context.Context, loc driver.Locator, text string) error {
	if err := p.Session.Driver.SendKeys(ctx, loc, text); err != nil {
		return fmt.Errorf("%s: type into %s: %w", p.Session.Role, loc, err)
	}
	return nil
}
