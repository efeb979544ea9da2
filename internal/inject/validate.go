package inject

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxCommandLength is the hard ceiling on injected command size, counted
// in characters, not bytes.
const maxCommandLength = 10000

// destructivePattern is a hard rejection: the command is refused regardless
// of caller intent.
type destructivePattern struct {
	re     *regexp.Regexp
	reason string
}

var destructivePatterns = []destructivePattern{
	{
		re:     regexp.MustCompile(`(?i)\brm\s+(-{1,2}[\w-]+\s+)*/(\*)?\s*$`),
		reason: "recursive delete of filesystem root",
	},
	{
		re:     regexp.MustCompile(`(?i)\brm\s+.*--no-preserve-root`),
		reason: "recursive delete of filesystem root",
	},
	{
		re:     regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`),
		reason: "fork bomb",
	},
	{
		re:     regexp.MustCompile(`(?i)\bdd\s+.*\bof=/dev/(sd|hd|nvme|vd|disk)`),
		reason: "raw write to block device",
	},
	{
		re:     regexp.MustCompile(`(?i)>\s*/dev/(sd|hd|nvme|vd)`),
		reason: "raw write to block device",
	},
	{
		re:     regexp.MustCompile(`(?i)\bmkfs(\.\w+)?\b`),
		reason: "filesystem format",
	},
	{
		re:     regexp.MustCompile(`(?i)\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?\w*sh\b`),
		reason: "piping a remote script to a shell",
	},
	{
		re:     regexp.MustCompile(`(?i)\bchmod\s+(-{1,2}[\w-]+\s+)*0?777\s+/\s*$`),
		reason: "making filesystem root world-writable",
	},
	{
		re:     regexp.MustCompile(`(?i)\bchown\s+(-{1,2}[\w-]+\s+)*\S+\s+/\s*$`),
		reason: "changing ownership of filesystem root",
	},
}

// cautionaryPatterns flag a command as dangerous without rejecting it; the
// caller decides whether to require extra confirmation.
var cautionaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+-\w*r\w*\b`),
	regexp.MustCompile(`(?i)\bsudo\s+rm\b`),
	regexp.MustCompile(`(?i)\bchmod\b`),
	regexp.MustCompile(`(?i)\bchown\b`),
	regexp.MustCompile(`(?i)\b(kill|pkill)\s+-9\b`),
	regexp.MustCompile(`(?i)\bkillall\b`),
}

// ValidateCommand applies the safety rules in order: empty, destructive,
// null bytes, length ceiling, then cautionary flagging.
func ValidateCommand(command string) Validation {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return Validation{Valid: false, Reason: "empty command"}
	}

	for _, p := range destructivePatterns {
		if p.re.MatchString(trimmed) {
			return Validation{Valid: false, Reason: p.reason, Dangerous: true}
		}
	}

	if strings.ContainsRune(command, 0) {
		return Validation{Valid: false, Reason: "command contains null bytes", Dangerous: true}
	}

	if utf8.RuneCountInString(command) > maxCommandLength {
		return Validation{Valid: false, Reason: "command exceeds maximum length"}
	}

	for _, re := range cautionaryPatterns {
		if re.MatchString(trimmed) {
			return Validation{Valid: true, Dangerous: true}
		}
	}

	return Validation{Valid: true}
}
