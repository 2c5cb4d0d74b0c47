package inbox

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/his-notify/internal/models"
)

// SoundPlayer plays an audio cue. Failures are expected (autoplay policies,
// missing devices) and never surface to the user.
type SoundPlayer interface {
	Play(asset string) error
}

type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

type DesktopOptions struct {
	// Timeout dismisses the notification; zero keeps it until the user acts.
	Timeout time.Duration
	Icon    string
	Tag     string
}

// DesktopNotifier shows platform-level notifications once permission is granted.
type DesktopNotifier interface {
	Permission() Permission
	Show(n models.Notification, opts DesktopOptions, onClick func()) error
}

// Navigator brings the application forward and opens deep links.
type Navigator interface {
	Focus()
	Open(url string) error
}

// LogSoundPlayer writes sound cues to the log.
type LogSoundPlayer struct {
	Logger zerolog.Logger
}

func (p LogSoundPlayer) Play(asset string) error {
	p.Logger.Info().Str("asset", asset).Msg("play sound")
	return nil
}

// LogDesktopNotifier writes desktop notifications to the log.
type LogDesktopNotifier struct {
	Logger zerolog.Logger
	Grant  Permission
}

func (d LogDesktopNotifier) Permission() Permission {
	if d.Grant == "" {
		return PermissionDefault
	}
	return d.Grant
}

func (d LogDesktopNotifier) Show(n models.Notification, opts DesktopOptions, _ func()) error {
	d.Logger.Info().
		Str("notification_id", n.ID).
		Str("title", n.Title).
		Str("icon", opts.Icon).
		Dur("timeout", opts.Timeout).
		Msg("desktop notification")
	return nil
}

// LogNavigator writes navigation requests to the log.
type LogNavigator struct {
	Logger zerolog.Logger
}

func (n LogNavigator) Focus() {
	n.Logger.Debug().Msg("focus application")
}

func (n LogNavigator) Open(url string) error {
	n.Logger.Info().Str("url", url).Msg("open link")
	return nil
}
