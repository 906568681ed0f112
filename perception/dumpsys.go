package perception

import (
	"strconv"
	"strings"
	"time"
)

// System packages whose notifications are noise, never signal.
var skipPackages = map[string]bool{
	"android":                         true,
	"com.android.systemui":            true,
	"com.android.providers.downloads": true,
	"com.android.vending":             true,
}

// ParseNotificationDump extracts notifications from the output of
// `dumpsys notification --noredact`. The dump is a loosely indented text
// report; a NotificationRecord header opens each record and the
// android.title/text/bigText extras follow on their own lines.
func ParseNotificationDump(raw string, now time.Time) []Notification {
	var out []Notification

	var (
		pkg, key             string
		title, text, bigText string
		haveText, haveBig    bool
		inRecord             bool
	)

	flush := func() {
		if !inRecord || pkg == "" {
			return
		}
		body := text
		if haveBig {
			body = bigText
		}
		if (title != "" || body != "") && !skipPackages[pkg] {
			id := key
			if id == "" {
				id = "nr_" + strconv.Itoa(len(out))
			}
			out = append(out, Notification{
				ID:     id,
				App:    pkg,
				Title:  title,
				Body:   body,
				SeenAt: now,
			})
		}
		pkg, key = "", ""
		title, text, bigText = "", "", ""
		haveText, haveBig = false, false
		inRecord = false
	}

	for _, line := range strings.Split(raw, "\n") {
		s := strings.TrimSpace(line)

		if strings.HasPrefix(s, "NotificationRecord(") || strings.HasPrefix(s, "NotificationRecord{") {
			flush()
			inRecord = true
			pkg = extractField(s, "pkg=")
			key = extractField(s, "0x")
			if key == "" {
				key = extractField(s, "id=")
			}
			continue
		}
		if !inRecord {
			continue
		}

		switch {
		case strings.HasPrefix(s, "android.title="):
			title = strings.TrimPrefix(s, "android.title=")
		case strings.HasPrefix(s, "android.text="):
			text = strings.TrimPrefix(s, "android.text=")
			haveText = true
		case strings.HasPrefix(s, "android.bigText="):
			bigText = strings.TrimPrefix(s, "android.bigText=")
			haveBig = true
		case strings.HasPrefix(s, "android.subText=") && !haveText:
			text = strings.TrimPrefix(s, "android.subText=")
			haveText = true
		case strings.HasPrefix(s, "String (android.title): "):
			title = strings.TrimPrefix(s, "String (android.title): ")
		case strings.HasPrefix(s, "String (android.text): "):
			text = strings.TrimPrefix(s, "String (android.text): ")
			haveText = true
		case strings.HasPrefix(s, "String (android.bigText): "):
			bigText = strings.TrimPrefix(s, "String (android.bigText): ")
			haveBig = true
		}
	}
	flush()
	return out
}

// extractField pulls the token following prefix, stopping at the usual
// dumpsys delimiters.
func extractField(line, prefix string) string {
	i := strings.Index(line, prefix)
	if i < 0 {
		return ""
	}
	rest := line[i+len(prefix):]
	end := strings.IndexFunc(rest, func(r rune) bool {
		return r == ' ' || r == ')' || r == '}' || r == ':'
	})
	if end < 0 {
		end = len(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// ParseForegroundActivity finds the resumed component in the output of
// `dumpsys activity activities`, falling back to the window manager focus
// lines on older Android releases.
func ParseForegroundActivity(raw string) (app, activity string) {
	lines := strings.Split(raw, "\n")
	for _, needle := range []string{"mResumedActivity:", "topResumedActivity:", "mFocusedApp=", "mCurrentFocus="} {
		for _, line := range lines {
			if !strings.Contains(line, needle) {
				continue
			}
			comp := findComponent(line)
			if comp == "" {
				continue
			}
			parts := strings.SplitN(comp, "/", 2)
			if len(parts) == 2 {
				return parts[0], parts[1]
			}
		}
	}
	return "unknown", "unknown"
}

func findComponent(line string) string {
	for _, word := range strings.Fields(line) {
		w := strings.Trim(word, "{})")
		if strings.Contains(w, "/") && strings.Contains(w, ".") &&
			!strings.HasPrefix(w, "/") && !strings.HasPrefix(w, "http") {
			return w
		}
	}
	return ""
}
