package bridge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/hermitdroid/hermitdroid/plan"
)

const uiDumpPath = "/sdcard/hermitdroid_ui_dump.xml"

// runner abstracts command execution so tests can capture argv without a
// device attached.
type runner func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// ADB talks to one device through the adb binary. A non-empty Serial
// pins the device when several are attached.
type ADB struct {
	Serial  string
	Timeout time.Duration

	log *slog.Logger
	run runner
}

func NewADB(serial string, log *slog.Logger) *ADB {
	if log == nil {
		log = slog.Default()
	}
	return &ADB{
		Serial:  strings.TrimSpace(serial),
		Timeout: 15 * time.Second,
		log:     log,
		run:     execRunner,
	}
}

func (b *ADB) adb(ctx context.Context, args ...string) (string, error) {
	out, err := b.adbBytes(ctx, args...)
	return strings.TrimSpace(string(out)), err
}

func (b *ADB) adbBytes(ctx context.Context, args ...string) ([]byte, error) {
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	argv := make([]string, 0, len(args)+2)
	if b.Serial != "" {
		argv = append(argv, "-s", b.Serial)
	}
	argv = append(argv, args...)

	stdout, stderr, err := b.run(ctx, "adb", argv...)
	if err != nil {
		// adb often reports a failure while still producing usable output.
		if len(bytes.TrimSpace(stdout)) > 0 {
			b.log.Warn("adb_warning", "args", strings.Join(args, " "), "stderr", strings.TrimSpace(string(stderr)))
			return stdout, nil
		}
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("adb %s: %s", args[0], msg)
	}
	return stdout, nil
}

// Dispatch executes one validated action. It assumes the gate already
// ran; nothing here re-checks classifications.
func (b *ADB) Dispatch(ctx context.Context, a plan.ActionRequest) error {
	switch a.Kind {
	case plan.KindTap:
		_, err := b.adb(ctx, "shell", "input", "tap", paramInt(a, "x"), paramInt(a, "y"))
		return err
	case plan.KindLongPress:
		x, y := paramInt(a, "x"), paramInt(a, "y")
		// A long press is a swipe that does not move.
		_, err := b.adb(ctx, "shell", "input", "swipe", x, y, x, y, "1000")
		return err
	case plan.KindSwipe:
		ms := paramIntDefault(a, "duration_ms", 300)
		_, err := b.adb(ctx, "shell", "input", "swipe",
			paramInt(a, "x1"), paramInt(a, "y1"), paramInt(a, "x2"), paramInt(a, "y2"), ms)
		return err
	case plan.KindTypeText:
		text, _ := a.Params["text"].(string)
		if text == "" {
			return nil
		}
		_, err := b.adb(ctx, "shell", "input", "text", EscapeInputText(text))
		return err
	case plan.KindPressKey:
		key, _ := a.Params["key"].(string)
		_, err := b.adb(ctx, "shell", "input", "keyevent", key)
		return err
	case plan.KindLaunchApp:
		pkg, _ := a.Params["package"].(string)
		_, err := b.adb(ctx, "shell", "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
		return err
	case plan.KindHome:
		_, err := b.adb(ctx, "shell", "input", "keyevent", "KEYCODE_HOME")
		return err
	case plan.KindBack:
		_, err := b.adb(ctx, "shell", "input", "keyevent", "KEYCODE_BACK")
		return err
	case plan.KindRecents:
		_, err := b.adb(ctx, "shell", "input", "keyevent", "KEYCODE_APP_SWITCH")
		return err
	case plan.KindOpenNotifications:
		_, err := b.adb(ctx, "shell", "cmd", "statusbar", "expand-notifications")
		return err
	case plan.KindScrollDown:
		_, err := b.adb(ctx, "shell", "input", "swipe", "540", "1500", "540", "500", "300")
		return err
	case plan.KindScrollUp:
		_, err := b.adb(ctx, "shell", "input", "swipe", "540", "500", "540", "1500", "300")
		return err
	case plan.KindWait:
		secs, _ := a.Params["seconds"].(float64)
		select {
		case <-time.After(time.Duration(secs * float64(time.Second))):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case plan.KindScreenshot:
		_, err := b.Screenshot(ctx)
		return err
	case plan.KindDismissNotification:
		id, _ := a.Params["notification_id"].(string)
		_, err := b.adb(ctx, "shell", "cmd", "notification", "cancel", id)
		return err
	case plan.KindNotifyUser:
		// Surfaced by the server event stream, not the device.
		msg, _ := a.Params["message"].(string)
		b.log.Info("notify_user", "message", msg)
		return nil
	case plan.KindDone:
		return nil
	default:
		return fmt.Errorf("unsupported action kind %q", a.Kind)
	}
}

func (b *ADB) NotificationDump(ctx context.Context) (string, error) {
	return b.adb(ctx, "shell", "dumpsys", "notification", "--noredact")
}

func (b *ADB) ActivityDump(ctx context.Context) (string, error) {
	return b.adb(ctx, "shell", "dumpsys", "activity", "activities")
}

// UITreeDump dumps through a file on the device; dumping straight to
// stdout is unreliable across Android versions.
func (b *ADB) UITreeDump(ctx context.Context) (string, error) {
	if _, err := b.adb(ctx, "shell", "uiautomator", "dump", uiDumpPath); err != nil {
		return "", err
	}
	xml, err := b.adb(ctx, "shell", "cat", uiDumpPath)
	if err != nil {
		return "", err
	}
	if !strings.Contains(xml, "<hierarchy") || !strings.Contains(xml, "<node") {
		return "", fmt.Errorf("ui dump did not contain a hierarchy (len=%d)", len(xml))
	}
	return xml, nil
}

func (b *ADB) Screenshot(ctx context.Context) ([]byte, error) {
	png, err := b.adbBytes(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}
	if len(png) < 100 {
		return nil, fmt.Errorf("screenshot too small (%d bytes)", len(png))
	}
	return png, nil
}

func (b *ADB) ScreenOn(ctx context.Context) (bool, error) {
	out, err := b.adb(ctx, "shell", "dumpsys", "power")
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "mWakefulness=Awake") || strings.Contains(out, "Display Power: state=ON"), nil
}

// Wake turns the screen on and dismisses an insecure lockscreen.
func (b *ADB) Wake(ctx context.Context) error {
	if _, err := b.adb(ctx, "shell", "input", "keyevent", "KEYCODE_WAKEUP"); err != nil {
		return err
	}
	_, err := b.adb(ctx, "shell", "input", "keyevent", "KEYCODE_MENU")
	return err
}

// EscapeInputText escapes text for `adb shell input text`, which routes
// through a remote shell: spaces become %s and shell metacharacters need
// backslashes.
func EscapeInputText(text string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		" ", "%s",
		"&", `\&`,
		"<", `\<`,
		">", `\>`,
		"|", `\|`,
		";", `\;`,
		"(", `\(`,
		")", `\)`,
		"'", `\'`,
		`"`, `\"`,
		"$", `\$`,
		"`", "\\`",
	)
	return r.Replace(text)
}

func paramInt(a plan.ActionRequest, name string) string {
	switch v := a.Params[name].(type) {
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.Itoa(int(v))
	default:
		return "0"
	}
}

func paramIntDefault(a plan.ActionRequest, name string, def int) string {
	if _, ok := a.Params[name]; !ok {
		return strconv.Itoa(def)
	}
	return paramInt(a, name)
}
