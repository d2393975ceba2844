package schemas

// Dependency is one declared (package, version) pair extracted from a
// project manifest, normalized per ecosystem.
type Dependency struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Ecosystem string   `json:"ecosystem"`
	Source    string   `json:"source"` // manifest file the declaration came from
	Language  Language `json:"language"`
}

// Advisory is a known-vulnerability record returned by an advisory source.
// AffectedRange uses semver constraint syntax where the ecosystem supports
// it; otherwise it is an exact version string.
type Advisory struct {
	ID            string   `json:"id"`
	Severity      Severity `json:"severity"`
	Summary       string   `json:"summary"`
	AffectedRange string   `json:"affected_range"`
	Reference     string   `json:"reference,omitempty"`
}
