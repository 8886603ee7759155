package meet

import (
	"context"
	"errors"
	"go/parser"
	"go/token"
	"os"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/thesyncim/meetsuite/pkg/driver"
	"github.com/thesyncim/meetsuite/pkg/driver/mock"
	"github.com/thesyncim/meetsuite/pkg/internal"
	"github.com/thesyncim/meetsuite/pkg/poll"
	"github.com/thesyncim/meetsuite/pkg/session"
)

const (
	setTitle   = "document.title = arguments[0]; return document.title"
	readMyID   = "return window.meet ? window.meet.myId() : null"
	testBase   = "http://fixture.test"
	testRoomID = "torture42"
)

func mockPoll() *poll.Options {
	return &poll.Options{
		Timeout:  time.Second,
		Interval: 200 * time.Millisecond,
		Clock:    internal.NewMockClock(time.Time{}),
	}
}

func newConference(t *testing.T, d driver.Driver) *Conference {
	t.Helper()
	orch := session.New(func(context.Context, driver.Options) (driver.Driver, error) {
		return d, nil
	})
	c := NewConference(orch, testBase+"/")
	c.Room = testRoomID
	c.Poll = mockPoll()
	return c
}

func participant(d driver.Driver) *Participant {
	return &Participant{
		Session: &session.Session{Role: "owner", Driver: d},
		ID:      "abc",
		Poll:    mockPoll(),
	}
}

func TestFragment(t *testing.T) {
	assert.Empty(t, Fragment{}.String())
	assert.Equal(t, "#config.startAudioMuted=true", Fragment{StartAudioMuted: true}.String())
	assert.Equal(t,
		"#config.startAudioMuted=true&config.startVideoMuted=true"+
			"&userInfo.displayName=%22Alice%20B%22&userInfo.email=%22a%40b.c%22",
		Fragment{
			StartAudioMuted: true,
			StartVideoMuted: true,
			DisplayName:     "Alice B",
			Email:           "a@b.c",
		}.String())
}

func TestLocators(t *testing.T) {
	assert.Equal(t, "css=#participant-abc", Tile("abc").String())
	assert.Equal(t, "css=#participant-abc .display-name", TileName("abc").String())
	assert.Equal(t, "css=#participant-abc img.avatar", TileAvatar("abc").String())
}

func TestGravatarURL(t *testing.T) {
	assert.Equal(t, DefaultAvatar, GravatarURL(""))
	assert.Equal(t, "/static/avatar.svg", DefaultAvatar)
	assert.Equal(t,
		"https://www.gravatar.com/avatar/0bc83cb571cd1c50ba6f3e8a78ef1346?d=identicon",
		GravatarURL("MyEmailAddress@example.com"))
}

func TestImportsStayOffTheFixture(t *testing.T) {
	entries, err := os.ReadDir(".")
	require.NoError(t, err)

	fset := token.NewFileSet()
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, name, nil, parser.ImportsOnly)
		require.NoError(t, err)
		for _, imp := range f.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			require.NoError(t, err)
			assert.NotContains(t, path, "/cmd/", "%s imports %s", name, path)
			assert.NotContains(t, path, "pion/webrtc", "%s imports %s", name, path)
		}
	}
}

func TestNewConference(t *testing.T) {
	c := NewConference(session.New(nil), testBase+"/")
	assert.Regexp(t, regexp.MustCompile(`^torture\d+$`), c.Room)
	assert.Equal(t, testBase, c.BaseURL)
	assert.True(t, c.Browser.FakeMedia)
	assert.Equal(t, testBase+"/"+c.Room+"#config.startVideoMuted=true",
		c.URL(Fragment{StartVideoMuted: true}))

	other := NewConference(session.New(nil), testBase)
	assert.NotEqual(t, c.Room, other.Room)
}

func TestConference_JoinWaitsForJoined(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mock.NewMockDriver(ctrl)
	c := newConference(t, d)

	gomock.InOrder(
		d.EXPECT().Navigate(gomock.Any(), testBase+"/"+testRoomID+"#userInfo.displayName=%22Owner%22").Return(nil),
		d.EXPECT().Eval(gomock.Any(), setTitle, "owner").Return("owner", nil),
		d.EXPECT().Eval(gomock.Any(), joinedScript).Return(false, nil).Times(2),
		d.EXPECT().Eval(gomock.Any(), joinedScript).Return(true, nil),
		d.EXPECT().Eval(gomock.Any(), readMyID).Return("p-1", nil),
	)

	p, err := c.Join(context.Background(), "owner", JoinOptions{Fragment: Fragment{DisplayName: "Owner"}})
	require.NoError(t, err)
	assert.Equal(t, "p-1", p.ID)
	assert.Equal(t, "owner", p.Session.Role)
}

func TestConference_JoinNoWait(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mock.NewMockDriver(ctrl)
	c := newConference(t, d)

	d.EXPECT().Navigate(gomock.Any(), testBase+"/"+testRoomID).Return(nil)
	d.EXPECT().Eval(gomock.Any(), setTitle, "guest").Return("guest", nil)

	p, err := c.Join(context.Background(), "guest", JoinOptions{NoWait: true})
	require.NoError(t, err)
	assert.Empty(t, p.ID)
}

func TestConference_JoinTimesOut(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mock.NewMockDriver(ctrl)
	c := newConference(t, d)

	d.EXPECT().Navigate(gomock.Any(), gomock.Any()).Return(nil)
	d.EXPECT().Eval(gomock.Any(), setTitle, "owner").Return("owner", nil)
	d.EXPECT().Eval(gomock.Any(), joinedScript).Return(false, nil).AnyTimes()

	_, err := c.Join(context.Background(), "owner", JoinOptions{})
	require.ErrorIs(t, err, poll.ErrTimeout)
	assert.Contains(t, err.Error(), testRoomID)
	assert.Contains(t, err.Error(), "owner")
}

func TestConference_Participant(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mock.NewMockDriver(ctrl)
	c := newConference(t, d)

	_, err := c.Participant(context.Background(), "owner")
	require.ErrorIs(t, err, driver.ErrSessionUnavailable)

	d.EXPECT().Navigate(gomock.Any(), gomock.Any()).Return(nil)
	d.EXPECT().Eval(gomock.Any(), setTitle, "owner").Return("owner", nil)
	_, err = c.Join(context.Background(), "owner", JoinOptions{NoWait: true})
	require.NoError(t, err)

	d.EXPECT().Eval(gomock.Any(), readMyID).Return(nil, nil)
	_, err = c.Participant(context.Background(), "owner")
	assert.ErrorContains(t, err, "not joined")

	d.EXPECT().Eval(gomock.Any(), readMyID).Return("p-9", nil)
	p, err := c.Participant(context.Background(), "owner")
	require.NoError(t, err)
	assert.Equal(t, "p-9", p.ID)
}

func TestParticipant_Actions(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mock.NewMockDriver(ctrl)
	p := participant(d)
	ctx := context.Background()

	gomock.InOrder(
		d.EXPECT().Click(ctx, ToggleAudioButton).Return(nil),
		d.EXPECT().Click(ctx, ToggleVideoButton).Return(nil),
		d.EXPECT().SendKeys(ctx, DisplayNameInput, "Alice").Return(nil),
		d.EXPECT().SendKeys(ctx, EmailInput, "alice@example.com").Return(nil),
		d.EXPECT().Click(ctx, LockRoomButton).Return(nil),
		d.EXPECT().SendKeys(ctx, LockPasswordInput, "s3cret").Return(nil),
		d.EXPECT().Click(ctx, LockSubmit).Return(nil),
		d.EXPECT().Click(ctx, LockRoomButton).Return(nil),
		d.EXPECT().SendKeys(ctx, LockPasswordInput, "").Return(nil),
		d.EXPECT().Click(ctx, LockSubmit).Return(nil),
		d.EXPECT().SendKeys(ctx, PasswordInput, "s3cret").Return(nil),
		d.EXPECT().Click(ctx, PasswordSubmit).Return(nil),
		d.EXPECT().Click(ctx, HangupButton).Return(nil),
	)

	require.NoError(t, p.ToggleAudio(ctx))
	require.NoError(t, p.ToggleVideo(ctx))
	require.NoError(t, p.SetDisplayName(ctx, "Alice"))
	require.NoError(t, p.SetEmail(ctx, "alice@example.com"))
	require.NoError(t, p.Lock(ctx, "s3cret"))
	require.NoError(t, p.Unlock(ctx))
	require.NoError(t, p.SubmitPassword(ctx, "s3cret"))
	require.NoError(t, p.Hangup(ctx))
}

func TestParticipant_ActionErrorsNameRole(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mock.NewMockDriver(ctrl)
	p := participant(d)

	d.EXPECT().Click(gomock.Any(), LockRoomButton).Return(driver.ErrSessionUnavailable)
	err := p.Lock(context.Background(), "pw")
	require.ErrorIs(t, err, driver.ErrSessionUnavailable)
	assert.Contains(t, err.Error(), "owner")
	assert.Contains(t, err.Error(), "#lock-room")
}

func TestTilePredicates(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mock.NewMockDriver(ctrl)
	p := participant(d)
	ctx := context.Background()

	d.EXPECT().Attribute(gomock.Any(), Tile("abc"), "data-audio-muted").Return("true", true, nil)
	_, err := p.WaitUntil(ctx, AudioMuted("abc", true))
	require.NoError(t, err)

	gomock.InOrder(
		d.EXPECT().Attribute(gomock.Any(), Tile("abc"), "data-video-muted").Return("true", true, nil),
		d.EXPECT().Attribute(gomock.Any(), Tile("abc"), "data-video-muted").Return("false", true, nil),
	)
	_, err = p.WaitUntil(ctx, VideoMuted("abc", false))
	require.NoError(t, err)

	d.EXPECT().Text(gomock.Any(), TileName("abc")).Return(" Alice ", nil)
	_, err = p.WaitUntil(ctx, DisplayName("abc", "Alice"))
	require.NoError(t, err)

	avatar := GravatarURL("alice@example.com")
	d.EXPECT().Attribute(gomock.Any(), TileAvatar("abc"), "src").Return(avatar, true, nil)
	_, err = p.WaitUntil(ctx, Avatar("abc", avatar))
	require.NoError(t, err)

	d.EXPECT().Count(gomock.Any(), Tiles).Return(3, nil)
	_, err = p.WaitUntil(ctx, ParticipantCount(3))
	require.NoError(t, err)
}

func TestScriptPredicates(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mock.NewMockDriver(ctrl)
	p := participant(d)
	ctx := context.Background()

	d.EXPECT().Eval(gomock.Any(), iceScript).Return(true, nil)
	_, err := p.WaitUntil(ctx, IceConnected())
	require.NoError(t, err)

	d.EXPECT().Eval(gomock.Any(), moderatorScript).Return(true, nil)
	_, err = p.WaitUntil(ctx, Moderator())
	require.NoError(t, err)

	d.EXPECT().Eval(gomock.Any(), lockedScript).Return(false, nil)
	_, err = p.WaitUntil(ctx, Locked(false))
	require.NoError(t, err)

	d.EXPECT().Eval(gomock.Any(), dominantScript).Return("abc", nil)
	_, err = p.WaitUntil(ctx, DominantSpeaker("abc"))
	require.NoError(t, err)

	d.EXPECT().Eval(gomock.Any(), uploadingScript, 300).Return(true, nil)
	_, err = p.WaitUntil(ctx, Uploading(300))
	require.NoError(t, err)

	d.EXPECT().Eval(gomock.Any(), uploadRateScript).Return(float64(512), nil)
	rate, err := p.UploadBitrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 512.0, rate)
}

func TestDialogPredicates(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mock.NewMockDriver(ctrl)
	p := participant(d)
	ctx := context.Background()

	gomock.InOrder(
		d.EXPECT().Visible(gomock.Any(), PasswordDialog).Return(false, nil),
		d.EXPECT().Visible(gomock.Any(), PasswordDialog).Return(true, nil),
	)
	_, err := p.WaitUntil(ctx, PasswordPrompt())
	require.NoError(t, err)

	d.EXPECT().Visible(gomock.Any(), ConferenceFullDialog).Return(true, nil)
	_, err = p.WaitUntil(ctx, ConferenceFull())
	require.NoError(t, err)

	d.EXPECT().Visible(gomock.Any(), LeftDialog).Return(true, nil)
	_, err = p.WaitUntil(ctx, Left())
	require.NoError(t, err)

	d.EXPECT().Visible(gomock.Any(), ShutdownDialog).Return(false, nil).AnyTimes()
	_, err = p.WaitUntil(ctx, ShuttingDown())
	require.ErrorIs(t, err, poll.ErrTimeout)
}

func TestCheck(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mock.NewMockDriver(ctrl)
	ctx := context.Background()
	check := Check("owner ice", 1, d, IceConnected())
	assert.Equal(t, "owner ice", check.Name)
	assert.Equal(t, 1, check.Tolerance)

	d.EXPECT().Eval(gomock.Any(), iceScript).Return(true, nil)
	assert.NoError(t, check.Func(ctx))

	d.EXPECT().Eval(gomock.Any(), iceScript).Return(false, nil)
	assert.ErrorContains(t, check.Func(ctx), "observed false")

	d.EXPECT().Eval(gomock.Any(), iceScript).Return(nil, driver.ErrSessionUnavailable)
	assert.ErrorIs(t, check.Func(ctx), driver.ErrSessionUnavailable)

	boom := errors.New("boom")
	d.EXPECT().Eval(gomock.Any(), iceScript).Return(nil, driver.Transient("eval", boom))
	assert.ErrorIs(t, check.Func(ctx), boom)
}

func TestHeartbeatChecks(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := participant(mock.NewMockDriver(ctrl))

	checks := p.HeartbeatChecks(200)
	require.Len(t, checks, 3)
	assert.Equal(t, "owner ice", checks[0].Name)
	assert.Equal(t, 0, checks[0].Tolerance)
	assert.Equal(t, "owner joined", checks[1].Name)
	assert.Equal(t, 0, checks[1].Tolerance)
	assert.Equal(t, "owner bitrate", checks[2].Name)
	assert.Equal(t, 2, checks[2].Tolerance)
}
