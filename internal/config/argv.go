package config

import (
	"errors"
	"strings"
	"unicode"
)

var (
	errOpenQuote  = errors.New("unterminated quote")
	errOpenEscape = errors.New("unterminated escape sequence")
)

// parseArgv splits a shell-like command line such as media.video_cmd.
// Single and double quotes group words, a backslash escapes the next rune and
// an unquoted '#' at a word start ends the line. No expansion is performed.
func parseArgv(input string) ([]string, error) {
	var (
		argv    []string
		word    strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)

	for _, r := range strings.TrimSpace(input) {
		if escaped {
			word.WriteRune(r)
			escaped = false
			continue
		}
		if quote != 0 {
			if r == quote {
				quote = 0
			} else {
				word.WriteRune(r)
			}
			continue
		}

		switch {
		case r == '\\':
			escaped, inWord = true, true
		case r == '\'' || r == '"':
			quote, inWord = r, true
		case r == '#' && !inWord:
			return argv, nil
		case unicode.IsSpace(r):
			if inWord {
				argv = append(argv, word.String())
				word.Reset()
				inWord = false
			}
		default:
			word.WriteRune(r)
			inWord = true
		}
	}

	switch {
	case escaped:
		return nil, errOpenEscape
	case quote != 0:
		return nil, errOpenQuote
	}
	if inWord {
		argv = append(argv, word.String())
	}
	return argv, nil
}
