package roster

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName lowercases value, folds accented letters to their base form
// and drops everything that is not a letter. It is idempotent.
func NormalizeName(value string) string {
	if value == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range norm.NFD.String(value) {
		if unicode.Is(unicode.Mn, r) || !unicode.IsLetter(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// NameKey builds the name-index key "last_first". It returns "" when both
// parts normalize to nothing.
func NameKey(first, last string) string {
	f, l := NormalizeName(first), NormalizeName(last)
	if f == "" && l == "" {
		return ""
	}
	return l + "_" + f
}

// SplitName splits a combined name column. A comma means "Last, First";
// otherwise the first word is the first name and the last word the last
// name, so middle names are dropped.
func SplitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	if i := strings.Index(full, ","); i >= 0 {
		last = strings.TrimSpace(full[:i])
		rest := strings.Fields(full[i+1:])
		if len(rest) > 0 {
			first = rest[0]
		}
		return first, last
	}
	parts := strings.Fields(full)
	if len(parts) == 1 {
		return "", parts[0]
	}
	return parts[0], parts[len(parts)-1]
}

// NormalizeGrade maps grade spellings onto one comparable form: "K" for
// kindergarten and "PK" for pre-k, otherwise the number without leading
// zeros ("05", "Grade 5" and "5th" all become "5").
func NormalizeGrade(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.TrimPrefix(v, "grade")
	v = strings.TrimPrefix(v, "gr")
	v = strings.TrimSpace(strings.Trim(v, ".-: "))
	switch v {
	case "":
		return ""
	case "k", "kg", "kindergarten", "0k":
		return "K"
	case "pk", "prek", "pre-k", "vpk":
		return "PK"
	}
	for _, suffix := range []string{"st", "nd", "rd", "th"} {
		if strings.HasSuffix(v, suffix) && len(v) > len(suffix) {
			v = v[:len(v)-len(suffix)]
			break
		}
	}
	trimmed := strings.TrimLeft(v, "0")
	if trimmed == "" {
		return "K"
	}
	return strings.ToUpper(trimmed)
}

// PlausibleName reports whether a free-text cell can hold a person's name:
// at least one letter and no digits. Loose header matching can land a name
// lookup on an identifier column, and this keeps ids out of the name index.
func PlausibleName(value string) bool {
	letter := false
	for _, r := range value {
		if unicode.IsDigit(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letter = true
		}
	}
	return letter
}
