package ffmpeg

import "strings"

// ParseLogLevel extracts the log level from ffmpeg output.
// With -loglevel level+<x> lines look like "[error] message" or
// "[component @ 0x...] [level] message". The level bracket is stripped and
// the component prefix is kept.
func ParseLogLevel(line string) (level, msg string) {
	if len(line) < 3 || line[0] != '[' {
		return "info", line
	}

	end := strings.Index(line, "] ")
	if end == -1 {
		return "info", line
	}

	bracket := line[1:end]
	if isLogLevel(bracket) {
		return bracket, line[end+2:]
	}

	component := line[:end+2]
	rest := line[end+2:]
	if len(rest) > 2 && rest[0] == '[' {
		if nextEnd := strings.Index(rest, "] "); nextEnd != -1 {
			nextBracket := rest[1:nextEnd]
			if isLogLevel(nextBracket) {
				return nextBracket, component + rest[nextEnd+2:]
			}
		}
	}

	return "info", line
}

// LastError returns the message of the most recent error or fatal line in
// lines, or "" when there is none.
func LastError(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		level, msg := ParseLogLevel(lines[i])
		switch level {
		case "error", "fatal", "panic":
			return msg
		}
	}
	return ""
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}
