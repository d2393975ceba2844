package schemas

// -- Finding Schemas --

// Severity represents the severity level assigned to a threat, ranging from
// critical to informational. The values are lowercase to align with the
// report wire format.
type Severity string

// Constants defining the standard severity levels.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// SeverityRank returns a numeric rank for ordering severities. Critical=5
// down to Info=1; unknown values rank 0.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Category names a class of security-relevant behavior. Static rules, taint
// sinks, dynamic observation kinds, and model findings all map into this
// shared vocabulary so the aggregator can group across detectors.
type Category string

const (
	CategoryCommandExecution Category = "command-execution"
	CategoryCodeEval         Category = "code-eval"
	CategorySQLInjection     Category = "sql-injection"
	CategoryExfiltration     Category = "exfiltration"
	CategoryNetworkSocket    Category = "network-socket"
	CategoryFileTampering    Category = "file-tampering"
	CategoryMemoryAbuse      Category = "memory-abuse"
	CategoryCredentials      Category = "hardcoded-credential"
	CategoryObfuscation      Category = "obfuscation"
	CategoryVulnerableDep    Category = "vulnerable-dependency"
	CategoryParseError       Category = "parse-error"
)

// KnownCategory reports whether c is part of the shared vocabulary. Model
// output referencing an unknown category is rejected, not coerced.
func KnownCategory(c Category) bool {
	switch c {
	case CategoryCommandExecution, CategoryCodeEval, CategorySQLInjection,
		CategoryExfiltration, CategoryNetworkSocket, CategoryFileTampering,
		CategoryMemoryAbuse, CategoryCredentials, CategoryObfuscation,
		CategoryVulnerableDep, CategoryParseError:
		return true
	}
	return false
}

// Finding is a single detector result: one rule match, one taint flow, one
// dependency advisory hit, or one validated model finding. Findings are
// immutable once created; the aggregator copies them into Evidence rather
// than referencing them.
type Finding struct {
	Category    Category `json:"category"`
	File        string   `json:"file"`
	Line        int      `json:"line"`
	EndLine     int      `json:"end_line,omitempty"`
	Column      int      `json:"column,omitempty"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
	Detector    string   `json:"detector"`
}
