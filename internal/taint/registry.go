// Package taint implements forward dataflow taint propagation over the
// semantic model's control-flow graph. Sources introduce taint, assignments
// and resolvable calls carry it, sanitizers clear it, sinks report it.
package taint

import (
	"regexp"

	"github.com/obsidiansec/argus/api/schemas"
)

// Source marks expressions that introduce attacker-controlled data. The
// pattern is matched against expression text and against nested call names.
type Source struct {
	ID      string
	Pattern string

	re *regexp.Regexp
}

// Sink marks calls that must never receive tainted data. Reflective sinks
// (dynamic dispatch, reflection) carry a confidence penalty because the
// callee cannot be confirmed statically.
type Sink struct {
	ID         string
	Category   schemas.Category
	Pattern    string
	Confidence float64
	Reflective bool

	re *regexp.Regexp
}

// Sanitizer marks calls whose result is considered clean regardless of input
// taint.
type Sanitizer struct {
	ID      string
	Pattern string

	re *regexp.Regexp
}

// Registry holds the source/sink/sanitizer vocabulary for one language.
type Registry struct {
	Language   schemas.Language
	Sources    []Source
	Sinks      []Sink
	Sanitizers []Sanitizer
}

// ForLanguage returns the built-in registry for a language, or nil when the
// language has no taint vocabulary.
func ForLanguage(lang schemas.Language) *Registry {
	switch lang {
	case schemas.LangPython:
		return pythonRegistry
	case schemas.LangGo:
		return goRegistry
	case schemas.LangJava:
		return javaRegistry
	default:
		return nil
	}
}

func compile(r *Registry) *Registry {
	for i := range r.Sources {
		r.Sources[i].re = regexp.MustCompile(r.Sources[i].Pattern)
	}
	for i := range r.Sinks {
		r.Sinks[i].re = regexp.MustCompile(r.Sinks[i].Pattern)
	}
	for i := range r.Sanitizers {
		r.Sanitizers[i].re = regexp.MustCompile(r.Sanitizers[i].Pattern)
	}
	return r
}

var pythonRegistry = compile(&Registry{
	Language: schemas.LangPython,
	Sources: []Source{
		{ID: "py-argv", Pattern: `\bsys\.argv\b`},
		{ID: "py-input", Pattern: `^(raw_)?input$`},
		{ID: "py-environ", Pattern: `\bos\.(environ|getenv)\b`},
		{ID: "py-flask-request", Pattern: `\brequest\.(args|form|values|json|data|cookies)\b`},
	},
	Sinks: []Sink{
		{ID: "py-os-system", Category: schemas.CategoryCommandExecution, Pattern: `^os\.(system|popen)$`, Confidence: 0.9},
		{ID: "py-subprocess", Category: schemas.CategoryCommandExecution, Pattern: `^subprocess\.(call|run|Popen|check_output)$`, Confidence: 0.85},
		{ID: "py-eval", Category: schemas.CategoryCodeEval, Pattern: `^(eval|exec)$`, Confidence: 0.9},
		{ID: "py-sql-execute", Category: schemas.CategorySQLInjection, Pattern: `\.(execute|executemany)$`, Confidence: 0.7},
		{ID: "py-getattr", Category: schemas.CategoryCodeEval, Pattern: `^getattr$`, Confidence: 0.8, Reflective: true},
	},
	Sanitizers: []Sanitizer{
		{ID: "py-shlex-quote", Pattern: `^shlex\.quote$`},
		{ID: "py-re-escape", Pattern: `^re\.escape$`},
		{ID: "py-int", Pattern: `^int$`},
	},
})

var goRegistry = compile(&Registry{
	Language: schemas.LangGo,
	Sources: []Source{
		{ID: "go-args", Pattern: `\bos\.Args\b`},
		{ID: "go-flag", Pattern: `^flag\.(String|Int|Bool|Arg|Args)$`},
		{ID: "go-http-input", Pattern: `\.(FormValue|PostFormValue|Query|Get)$`},
	},
	Sinks: []Sink{
		{ID: "go-exec", Category: schemas.CategoryCommandExecution, Pattern: `^exec\.Command(Context)?$`, Confidence: 0.9},
		{ID: "go-syscall-exec", Category: schemas.CategoryCommandExecution, Pattern: `^syscall\.Exec$`, Confidence: 0.9},
		{ID: "go-sql", Category: schemas.CategorySQLInjection, Pattern: `\.(Query|QueryRow|QueryContext|Exec|ExecContext)$`, Confidence: 0.7},
		{ID: "go-file-write", Category: schemas.CategoryFileTampering, Pattern: `^os\.(OpenFile|Create|WriteFile)$`, Confidence: 0.6},
		{ID: "go-net-dial", Category: schemas.CategoryExfiltration, Pattern: `^net\.Dial(Timeout)?$`, Confidence: 0.65},
		{ID: "go-reflect-call", Category: schemas.CategoryCodeEval, Pattern: `\.Call$`, Confidence: 0.8, Reflective: true},
	},
	Sanitizers: []Sanitizer{
		{ID: "go-strconv", Pattern: `^strconv\.(Atoi|ParseInt|ParseUint|ParseFloat)$`},
		{ID: "go-quotemeta", Pattern: `^regexp\.QuoteMeta$`},
	},
})

var javaRegistry = compile(&Registry{
	Language: schemas.LangJava,
	Sources: []Source{
		{ID: "java-args", Pattern: `\bargs\b`},
		{ID: "java-scanner", Pattern: `\.(next|nextLine|nextInt|readLine)$`},
		{ID: "java-servlet", Pattern: `\.(getParameter|getHeader|getQueryString)$`},
	},
	Sinks: []Sink{
		{ID: "java-runtime-exec", Category: schemas.CategoryCommandExecution, Pattern: `\.exec$`, Confidence: 0.9},
		{ID: "java-process-builder", Category: schemas.CategoryCommandExecution, Pattern: `^new ProcessBuilder$`, Confidence: 0.85},
		{ID: "java-sql", Category: schemas.CategorySQLInjection, Pattern: `\.(execute|executeQuery|executeUpdate)$`, Confidence: 0.7},
		{ID: "java-reflect-invoke", Category: schemas.CategoryCodeEval, Pattern: `\.invoke$`, Confidence: 0.8, Reflective: true},
		{ID: "java-socket", Category: schemas.CategoryExfiltration, Pattern: `^new Socket$`, Confidence: 0.65},
	},
	Sanitizers: []Sanitizer{
		{ID: "java-parse-int", Pattern: `^Integer\.parseInt$`},
		{ID: "java-url-encode", Pattern: `^URLEncoder\.encode$`},
	},
})
