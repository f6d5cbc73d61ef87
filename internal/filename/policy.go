// Package filename turns a user supplied name into the final upload name.
// Every function here is pure.
package filename

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxBaseLength caps the name part, extension excluded, in characters.
const MaxBaseLength = 200

// DefaultVideoExt is used for videos whose original name has no extension.
const DefaultVideoExt = ".mp4"

// Position says where custom text is attached.
type Position string

const (
	PositionStart Position = "start"
	PositionEnd   Position = "end"
)

// ParsePosition maps user input to a Position.
func ParsePosition(raw string) (Position, bool) {
	switch Position(strings.ToLower(strings.TrimSpace(raw))) {
	case PositionStart:
		return PositionStart, true
	case PositionEnd:
		return PositionEnd, true
	}
	return "", false
}

// Preferences are the per-user naming rules.
type Preferences struct {
	CleanTags  bool
	CustomText string
	Position   Position
	Username   string
}

// DefaultPreferences returns the rules for a user who changed nothing.
func DefaultPreferences() Preferences {
	return Preferences{CleanTags: true, Position: PositionEnd}
}

var (
	forbiddenChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	mentionTag     = regexp.MustCompile(`[\[\(\{]?@[\p{L}\p{N}_]+[\]\)\}]?`)
	hashTag        = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
	spaces         = regexp.MustCompile(`\s+`)
)

// Sanitize replaces characters that are unsafe in filenames, trims dots and
// spaces from both ends and caps the base name length.
func Sanitize(name string) string {
	name = forbiddenChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, ". ")
	base, ext := SplitExt(name)
	if utf8.RuneCountInString(base) > MaxBaseLength {
		base = string([]rune(base)[:MaxBaseLength])
	}
	name = base + ext
	if name == "" {
		return "file"
	}
	return name
}

// CleanTags removes @mentions, including bracketed ones, and #hashtags.
func CleanTags(text string) string {
	if text == "" {
		return text
	}
	text = mentionTag.ReplaceAllString(text, "")
	text = hashTag.ReplaceAllString(text, "")
	return collapseSpaces(text)
}

// AddAffix attaches affix before or after the base name, keeping the extension.
func AddAffix(name, affix string, pos Position) string {
	affix = strings.TrimSpace(affix)
	if affix == "" {
		return name
	}
	base, ext := SplitExt(name)
	if pos == PositionStart {
		base = affix + " " + base
	} else {
		base = base + " " + affix
	}
	return collapseSpaces(base) + ext
}

// ApplyUserPreferences applies tag cleaning, custom text and username in that order.
func ApplyUserPreferences(prefs Preferences, name string) string {
	pos := prefs.Position
	if pos == "" {
		pos = PositionEnd
	}
	if prefs.CleanTags {
		base, ext := SplitExt(name)
		if cleaned := CleanTags(base); cleaned != "" {
			name = cleaned + ext
		}
	}
	name = AddAffix(name, prefs.CustomText, pos)
	if username := strings.TrimSpace(prefs.Username); username != "" {
		base, _ := SplitExt(name)
		if !strings.Contains(strings.ToLower(base), strings.ToLower(username)) {
			name = AddAffix(name, username, pos)
		}
	}
	return name
}

// Final produces the upload name for a reply under prefs.
func Final(prefs Preferences, name string) string {
	return Sanitize(ApplyUserPreferences(prefs, Sanitize(name)))
}

// AppendMissingExtension appends the original extension when name has no dot
// at all. It reports whether it changed name.
func AppendMissingExtension(name, original string) (string, bool) {
	if strings.Contains(name, ".") {
		return name, false
	}
	_, ext := SplitExt(original)
	if ext == "" {
		return name, false
	}
	return name + ext, true
}

// EnsureExtension makes name end with the original extension, or fallback
// when the original has none.
func EnsureExtension(name, original, fallback string) string {
	_, ext := SplitExt(original)
	if ext == "" {
		ext = fallback
	}
	if ext == "" || strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext)) {
		return name
	}
	return name + ext
}

// SplitExt splits name into base and extension. Leading dots do not start an
// extension, so ".env" has none.
func SplitExt(name string) (string, string) {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return name, ""
	}
	if strings.Trim(name[:idx], ".") == "" {
		return name, ""
	}
	if strings.ContainsAny(name[idx:], "/\\") {
		return name, ""
	}
	return name[:idx], name[idx:]
}

var videoExts = map[string]struct{}{
	".mp4": {}, ".mkv": {}, ".webm": {}, ".avi": {}, ".mov": {}, ".flv": {},
}

// IsVideo classifies a file from its mime type or extension.
func IsVideo(mime, name string) bool {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(mime)), "video/") {
		return true
	}
	_, ext := SplitExt(name)
	_, ok := videoExts[strings.ToLower(ext)]
	return ok
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}
