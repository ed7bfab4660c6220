package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"nathanbeddoewebdev/vpsd/internal/lockstore"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
)

// ErrAborted is returned when a user cancels an interactive prompt.
var ErrAborted = errors.New("aborted by user")

func accessible() bool {
	return os.Getenv("ACCESSIBLE") != ""
}

// WithSpinner runs action behind a spinner titled title on stderr. The
// spinner stops when ctx is done.
func WithSpinner(ctx context.Context, title string, action func(ctx context.Context) error) error {
	err := spinner.New().
		Title(title).
		Accessible(accessible()).
		Output(os.Stderr).
		Context(ctx).
		ActionWithErr(func(context.Context) error { return action(ctx) }).
		Run()
	if errors.Is(err, huh.ErrUserAborted) || errors.Is(err, context.Canceled) {
		return ErrAborted
	}
	return err
}

// ConfirmRelease asks before force-releasing l. It returns ErrAborted when
// the user declines.
func ConfirmRelease(l *lockstore.Lock, now time.Time) error {
	desc := fmt.Sprintf("Held by %s since %s.", ownerOrUnknown(l.Owner), l.AcquiredAt.Local().Format("2006-01-02 15:04:05"))
	if l.Expired(now) {
		desc += " The lock has expired."
	} else {
		desc += fmt.Sprintf(" Expires in %s.", l.ExpiresAt.Sub(now).Truncate(time.Second))
	}
	desc += "\nA running operation on this resource will no longer be protected."

	var confirm bool
	field := huh.NewConfirm().
		Title(fmt.Sprintf("Release the lock on %s?", l.ResourceID)).
		Description(desc).
		Affirmative("Release").
		Negative("Cancel").
		Value(&confirm)

	err := huh.NewForm(huh.NewGroup(field)).WithAccessible(accessible()).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrAborted
	}
	if err != nil {
		return err
	}
	if !confirm {
		return ErrAborted
	}
	return nil
}

func ownerOrUnknown(owner string) string {
	if owner == "" {
		return "an unknown owner"
	}
	return owner
}
