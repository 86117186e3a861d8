package normalize

import "strings"

// AttendanceStatus is the canonical daily attendance outcome.
type AttendanceStatus string

const (
	Present        AttendanceStatus = "present"
	Absent         AttendanceStatus = "absent"
	Tardy          AttendanceStatus = "tardy"
	EarlyDismissal AttendanceStatus = "early-dismissal"
)

var attendanceCodes = map[string]AttendanceStatus{
	"P": Present, "PR": Present, "PRESENT": Present, "/": Present, ".": Present,

	"A": Absent, "AB": Absent, "ABS": Absent, "ABSENT": Absent,
	"U": Absent, "UA": Absent, "UNEXCUSED": Absent,
	"E": Absent, "EA": Absent, "EXCUSED": Absent,
	"X": Absent, "S": Absent, "SUS": Absent, "SUSPENDED": Absent,

	"T": Tardy, "L": Tardy, "TU": Tardy, "TE": Tardy, "TARDY": Tardy, "LATE": Tardy,

	"D": EarlyDismissal, "ED": EarlyDismissal, "LE": EarlyDismissal, "CO": EarlyDismissal,
	"EARLY": EarlyDismissal, "EARLY DISMISSAL": EarlyDismissal, "CHECKOUT": EarlyDismissal,
}

// Attendance classifies an attendance code. Codes that are not recognized
// count as present.
func Attendance(code string) AttendanceStatus {
	status, _ := LookupAttendance(code)
	return status
}

// LookupAttendance is Attendance that also reports whether the code was
// recognized, so callers can log the fallback.
func LookupAttendance(code string) (AttendanceStatus, bool) {
	key := strings.ToUpper(strings.Join(strings.Fields(code), " "))
	if status, ok := attendanceCodes[key]; ok {
		return status, true
	}
	return Present, false
}
