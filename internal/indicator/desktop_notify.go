package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	notificationsDest = "org.freedesktop.Notifications"
	notificationsPath = "/org/freedesktop/Notifications"
	interviewCategory = "im"

	urgencyNormal   = 1
	urgencyCritical = 2
)

// desktopNote is one freedesktop notification. ReplaceID 0 asks the server
// for a new id.
type desktopNote struct {
	AppName   string
	ReplaceID uint32
	Summary   string
	Urgency   byte
	TimeoutMS int
}

// urgencyFor maps an indicator color to a freedesktop urgency level.
func urgencyFor(color string) byte {
	switch color {
	case colorWarning, colorError:
		return urgencyCritical
	default:
		return urgencyNormal
	}
}

// desktopNotify sends note over the session bus via busctl and returns the
// id assigned by the notification server.
func desktopNotify(ctx context.Context, note desktopNote) (uint32, error) {
	out, err := busctl(ctx, "Notify", "susssasa{sv}i",
		note.AppName,
		strconv.FormatUint(uint64(note.ReplaceID), 10),
		"",
		note.Summary,
		"",
		"0",
		"2",
		"urgency", "y", strconv.Itoa(int(note.Urgency)),
		"category", "s", interviewCategory,
		strconv.Itoa(note.TimeoutMS),
	)
	if err != nil {
		return 0, fmt.Errorf("desktop notify: %w", err)
	}

	fields := strings.Fields(out)
	if len(fields) < 2 || fields[0] != "u" {
		return 0, fmt.Errorf("desktop notify: unexpected reply %q", out)
	}
	id, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("desktop notify: parse id %q: %w", fields[1], err)
	}
	return uint32(id), nil
}

// desktopDismiss closes a notification by id.
func desktopDismiss(ctx context.Context, id uint32) error {
	if _, err := busctl(ctx, "CloseNotification", "u", strconv.FormatUint(uint64(id), 10)); err != nil {
		return fmt.Errorf("desktop dismiss: %w", err)
	}
	return nil
}

func busctl(ctx context.Context, method string, signature string, args ...string) (string, error) {
	argv := append([]string{
		"--user", "call",
		notificationsDest, notificationsPath, notificationsDest,
		method, signature,
	}, args...)

	out, err := exec.CommandContext(ctx, "busctl", argv...).CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if trimmed == "" {
			return "", err
		}
		return "", fmt.Errorf("%w (%s)", err, trimmed)
	}
	return trimmed, nil
}
