package normalize

import "strings"

// Proficiency is the ordered four-step scale every achievement level maps
// onto.
type Proficiency string

const (
	Below       Proficiency = "below"
	Approaching Proficiency = "approaching"
	Meets       Proficiency = "meets"
	Exceeds     Proficiency = "exceeds"
)

// Rank orders the scale from 1 (below) to 4 (exceeds); unknown values are 0.
func (p Proficiency) Rank() int {
	switch p {
	case Below:
		return 1
	case Approaching:
		return 2
	case Meets:
		return 3
	case Exceeds:
		return 4
	}
	return 0
}

// levelTokens is checked in order, so longer phrases that contain a
// shorter token ("below satisfactory" vs "satisfactory") come first.
var levelTokens = []struct {
	token string
	level Proficiency
}{
	{"below satisfactory", Approaching},
	{"not met", Below},
	{"does not meet", Below},
	{"inadequate", Below},
	{"not proficient", Below},
	{"below", Below},
	{"partially", Approaching},
	{"approaching", Approaching},
	{"developing", Approaching},
	{"mastery", Exceeds},
	{"exceeds", Exceeds},
	{"advanced", Exceeds},
	{"highly proficient", Exceeds},
	{"proficient", Meets},
	{"satisfactory", Meets},
	{"on track", Meets},
	{"meets", Meets},
	{"met", Meets},
}

// ProficiencyFromLevel maps a numeric or textual achievement level such as
// "Level 3", "3" or "Below Satisfactory" onto the proficiency scale.
func ProficiencyFromLevel(level string) (Proficiency, bool) {
	v := strings.ToLower(strings.TrimSpace(level))
	if v == "" {
		return "", false
	}
	for _, t := range levelTokens {
		if strings.Contains(v, t.token) {
			return t.level, true
		}
	}
	for _, r := range v {
		switch r {
		case '1':
			return Below, true
		case '2':
			return Approaching, true
		case '3':
			return Meets, true
		case '4', '5':
			return Exceeds, true
		}
	}
	return "", false
}
