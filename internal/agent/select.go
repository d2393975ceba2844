package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const selectionSystemPrompt = `You are a security triage assistant. Given a list of source files from one
project, pick the files most likely to contain the core logic and any
security-relevant behavior. Respond with a JSON array of file paths, most
important first, and nothing else.`

// entryPointPattern marks files that look like program entry points; they are
// the first choice when the model cannot be consulted.
var entryPointPattern = regexp.MustCompile(`(?m)^\s*(def main|func main|public static void main|if __name__)`)

// SelectTargets asks the model which files to analyze, capped at maxTargets.
// Excess selections are truncated in the model's own priority order. Any
// failure or unusable answer falls back to the deterministic heuristic; the
// selection stage never aborts the run.
func SelectTargets(ctx context.Context, client LLMClient, files []SourceFile, maxTargets int, logger *zap.Logger) []SourceFile {
	if maxTargets < 1 {
		maxTargets = 1
	}
	if len(files) <= maxTargets {
		return sortedByPath(files)
	}

	byPath := make(map[string]SourceFile, len(files))
	listing := make([]string, 0, len(files))
	for _, f := range files {
		byPath[f.Path] = f
		listing = append(listing, fmt.Sprintf("%s (%s, %d bytes)", f.Path, f.Language, len(f.Content)))
	}
	sort.Strings(listing)

	resp, err := client.GenerateResponse(ctx, GenerationRequest{
		SystemPrompt: selectionSystemPrompt,
		UserPrompt: fmt.Sprintf("Select up to %d files to analyze:\n%s",
			maxTargets, strings.Join(listing, "\n")),
		ForceJSON: true,
	})
	if err != nil {
		logger.Warn("Target selection prompt failed, using heuristic fallback", zap.Error(err))
		return heuristicTargets(files, maxTargets)
	}

	var picked []string
	if err := json.Unmarshal([]byte(stripCodeFence(resp)), &picked); err != nil {
		logger.Warn("Target selection response unusable, using heuristic fallback", zap.Error(err))
		return heuristicTargets(files, maxTargets)
	}

	out := make([]SourceFile, 0, maxTargets)
	seen := make(map[string]bool)
	for _, path := range picked {
		if len(out) == maxTargets {
			break
		}
		f, ok := byPath[path]
		if !ok || seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, f)
	}
	if len(out) == 0 {
		logger.Warn("Target selection named no known files, using heuristic fallback")
		return heuristicTargets(files, maxTargets)
	}
	return out
}

// heuristicTargets is the deterministic fallback: entry-point files first,
// then by descending size, path as the tiebreaker.
func heuristicTargets(files []SourceFile, maxTargets int) []SourceFile {
	sorted := make([]SourceFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool {
		ei := entryPointPattern.Match(sorted[i].Content)
		ej := entryPointPattern.Match(sorted[j].Content)
		if ei != ej {
			return ei
		}
		if len(sorted[i].Content) != len(sorted[j].Content) {
			return len(sorted[i].Content) > len(sorted[j].Content)
		}
		return sorted[i].Path < sorted[j].Path
	})
	if len(sorted) > maxTargets {
		sorted = sorted[:maxTargets]
	}
	return sorted
}

func sortedByPath(files []SourceFile) []SourceFile {
	out := make([]SourceFile, len(files))
	copy(out, files)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
