package indicator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rbright/candor/internal/config"
	"github.com/stretchr/testify/require"
)

func installBusctlStub(t *testing.T, body string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "busctl")
	script := "#!/usr/bin/env bash\nset -euo pipefail\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))
}

func TestDesktopBackendReplacesNotificationAndSetsUrgency(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "busctl-args.log")
	t.Setenv("BUSCTL_ARGS_FILE", argsFile)
	installBusctlStub(t, `
printf '%s\n' "$*" >> "${BUSCTL_ARGS_FILE}"
if [[ "$6" == "Notify" ]]; then
  echo "u 42"
fi
`)

	cfg := config.Default().Indicator
	cfg.Backend = "desktop"
	cfg.DesktopAppName = "candor-test"
	cfg.SoundEnable = false

	notify := NewHyprNotify(cfg, nil)
	notify.ShowInCall(context.Background())
	notify.ShowPresenceWarning(context.Background())
	notify.Hide(context.Background())

	prefix := "--user call org.freedesktop.Notifications /org/freedesktop/Notifications org.freedesktop.Notifications "
	require.Equal(t, []string{
		prefix + "Notify susssasa{sv}i candor-test 0  Interview in progress  0 2 urgency y 1 category s im 300000",
		prefix + "Notify susssasa{sv}i candor-test 42  Are you still there? Run `candor here` or `candor exit`.  0 2 urgency y 2 category s im 300000",
		prefix + "CloseNotification u 42",
	}, readArgs(t, argsFile))
}

func TestDesktopNotifyRejectsUnexpectedReply(t *testing.T) {
	installBusctlStub(t, `echo "s nope"`)

	_, err := desktopNotify(context.Background(), desktopNote{AppName: "candor", Summary: "x", TimeoutMS: 10})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected reply")
}

func TestDesktopDismissIncludesBusctlOutput(t *testing.T) {
	installBusctlStub(t, `
echo "Call failed: no such notification" >&2
exit 1
`)

	err := desktopDismiss(context.Background(), 7)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no such notification")
}

func TestUrgencyFor(t *testing.T) {
	require.Equal(t, byte(urgencyCritical), urgencyFor(colorError))
	require.Equal(t, byte(urgencyCritical), urgencyFor(colorWarning))
	require.Equal(t, byte(urgencyNormal), urgencyFor(colorInfo))
	require.Equal(t, byte(urgencyNormal), urgencyFor(colorPending))
}
