package indicator

import (
	"os"
	"strings"
)

type locale string

const (
	localeEnglish locale = "en"
)

type messages struct {
	checksPassed string
	checksHint   string
	inCall       string
	presence     string
	countdown    string
	pending      string
	done         string
	errorText    string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "en") {
		return localeEnglish
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeEnglish:
		fallthrough
	default:
		return messages{
			checksPassed: "All checks passed",
			checksHint:   "Run `candor retry <check>` or `candor proceed`.",
			inCall:       "Interview in progress",
			presence:     "Are you still there? Run `candor here` or `candor exit`.",
			countdown:    "Wrapping up in %ds",
			pending:      "Generating feedback…",
			done:         "Interview ended",
			errorText:    "Interview error",
		}
	}
}
