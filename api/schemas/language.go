package schemas

import "strings"

// Language identifies a supported target language. The analyzer front ends,
// the taint registries, and the dynamic execution strategies are all keyed by
// this tag.
type Language string

const (
	LangPython  Language = "python"
	LangGo      Language = "go"
	LangJava    Language = "java"
	LangUnknown Language = "unknown"
)

// DetectLanguage maps a file name to its language tag by extension. Content
// sniffing is the responsibility of the upstream intake layer; this is only a
// convenience for CLI usage.
func DetectLanguage(path string) Language {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".py"):
		return LangPython
	case strings.HasSuffix(lower, ".go"):
		return LangGo
	case strings.HasSuffix(lower, ".java"):
		return LangJava
	default:
		return LangUnknown
	}
}

// Supported reports whether the language has a full analysis front end.
func (l Language) Supported() bool {
	switch l {
	case LangPython, LangGo, LangJava:
		return true
	}
	return false
}
