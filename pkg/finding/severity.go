package finding

// Severity is the severity level of a security finding. Values are
// lowercase strings, matching the convention of the external scanners
// whose output feeds the pipeline.
type Severity string

const (
	// Critical represents immediate compromise (RCE, auth bypass).
	Critical Severity = "critical"

	// High represents significant impact requiring a prompt fix.
	High Severity = "high"

	// Medium represents moderate impact.
	Medium Severity = "medium"

	// Low represents limited impact.
	Low Severity = "low"

	// Info represents informational findings with no direct impact.
	Info Severity = "info"

	// Unknown is used when a scanner reports no recognizable severity.
	Unknown Severity = "unknown"
)

// IsValid reports whether s is a recognized severity level.
func (s Severity) IsValid() bool {
	switch s {
	case Critical, High, Medium, Low, Info:
		return true
	}
	return false
}

// Rank returns a numeric rank for sorting: Critical=5 down to Info=1,
// anything unrecognized=0.
func (s Severity) Rank() int {
	switch s {
	case Critical:
		return 5
	case High:
		return 4
	case Medium:
		return 3
	case Low:
		return 2
	case Info:
		return 1
	default:
		return 0
	}
}

// String returns the severity as a string.
func (s Severity) String() string {
	return string(s)
}

// Ordered returns all severities from most to least severe.
func Ordered() []Severity {
	return []Severity{Critical, High, Medium, Low, Info}
}

// Normalize lowercases a scanner-reported severity string and maps
// unrecognized values to Unknown.
func Normalize(raw string) Severity {
	switch Severity(lower(raw)) {
	case Critical:
		return Critical
	case High:
		return High
	case Medium:
		return Medium
	case Low:
		return Low
	case Info:
		return Info
	default:
		return Unknown
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}
