package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"

	jsoniter "github.com/json-iterator/go"

	"github.com/obsidiansec/argus/api/schemas"
)

var payloadJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// SourceFile is one candidate for model analysis.
type SourceFile struct {
	Path     string
	Language schemas.Language
	Content  []byte
}

// Payload is the canonical request body sent to the model. Field and slice
// order is fixed so the JSON form, and therefore the fingerprint, is
// deterministic for identical input.
type Payload struct {
	Excerpts []FileExcerpt `json:"excerpts"`
	Dynamic  []string      `json:"dynamic,omitempty"`
}

// FileExcerpt is one capped, redacted source excerpt.
type FileExcerpt struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	Excerpt  string `json:"excerpt"`
	Trimmed  bool   `json:"trimmed,omitempty"`
}

// BuildPayload assembles excerpts for the selected files plus one-line
// digests of the dynamic run. Secret patterns are scrubbed before anything
// leaves the process.
func BuildPayload(files []SourceFile, dyn *schemas.DynamicRunResult, maxFileChars int, redact []*regexp.Regexp) Payload {
	sorted := make([]SourceFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	p := Payload{Excerpts: make([]FileExcerpt, 0, len(sorted))}
	for _, f := range sorted {
		excerpt := string(f.Content)
		trimmed := false
		if maxFileChars > 0 && len(excerpt) > maxFileChars {
			excerpt = excerpt[:maxFileChars]
			trimmed = true
		}
		p.Excerpts = append(p.Excerpts, FileExcerpt{
			Path:     f.Path,
			Language: string(f.Language),
			Excerpt:  redactSecrets(excerpt, redact),
			Trimmed:  trimmed,
		})
	}
	if dyn != nil {
		p.Dynamic = append(p.Dynamic, fmt.Sprintf("target=%s termination=%s exit=%d",
			dyn.Target, dyn.Termination, dyn.ExitCode))
		for _, obs := range dyn.Observations {
			p.Dynamic = append(p.Dynamic, redactSecrets(obs.Summary(), redact))
		}
	}
	return p
}

// Fingerprint is the cache key: sha256 over the canonical JSON form.
func (p Payload) Fingerprint() string {
	data, err := payloadJSON.Marshal(p)
	if err != nil {
		// Marshal of this shape cannot fail; guard for the impossible.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Marshal renders the payload for the user prompt.
func (p Payload) Marshal() (string, error) {
	data, err := payloadJSON.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal model payload: %w", err)
	}
	return string(data), nil
}

const redactedPlaceholder = "[REDACTED]"

func redactSecrets(s string, redact []*regexp.Regexp) string {
	for _, re := range redact {
		s = re.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

// CompileRedactions turns configured secret patterns into matchers, skipping
// patterns that do not compile.
func CompileRedactions(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		out = append(out, re)
	}
	return out
}
