// Package deps extracts declared dependencies from project manifests and
// matches them against known-vulnerability advisories.
package deps

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/obsidiansec/argus/api/schemas"
)

// Ecosystem labels used in advisory queries. They follow the OSV vocabulary.
const (
	EcosystemPyPI  = "PyPI"
	EcosystemGo    = "Go"
	EcosystemMaven = "Maven"
)

var manifestsByLanguage = map[schemas.Language][]string{
	schemas.LangPython: {"requirements.txt", "setup.py"},
	schemas.LangGo:     {"go.mod"},
	schemas.LangJava:   {"pom.xml", "build.gradle"},
}

var (
	// name==1.2.3, name>=1.2, name (pin optional)
	reRequirement = regexp.MustCompile(`(?m)^\s*([A-Za-z0-9][A-Za-z0-9._-]*)\s*(?:[=<>!~]=?\s*([0-9][A-Za-z0-9.+-]*))?`)
	reSetupPy     = regexp.MustCompile(`['"]([A-Za-z0-9][A-Za-z0-9._-]*)\s*(?:[=<>!~]=?\s*([0-9][A-Za-z0-9.+-]*))?['"]`)
	reGoMod       = regexp.MustCompile(`(?m)^\s*([A-Za-z0-9][\w./-]*\.[\w./-]+)\s+v([0-9][\w.+-]*)`)
	rePomDep      = regexp.MustCompile(`(?s)<dependency>.*?<groupId>\s*([^<]+?)\s*</groupId>.*?<artifactId>\s*([^<]+?)\s*</artifactId>(?:.*?<version>\s*([^<$]+?)\s*</version>)?.*?</dependency>`)
	reGradleDep   = regexp.MustCompile(`(?m)(?:implementation|api|compile|runtimeOnly|testImplementation)\s*[\(]?\s*['"]([\w.-]+):([\w.-]+):([\w.+-]+)['"]`)
)

// Extractor reads manifests under a project directory.
type Extractor struct {
	logger *zap.Logger
}

func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger.Named("deps")}
}

// Extract parses the manifests of one language under dir. Unreadable or
// absent manifests are skipped; manifest parsing never fails the run.
func (e *Extractor) Extract(dir string, lang schemas.Language) []schemas.Dependency {
	var out []schemas.Dependency
	for _, manifest := range manifestsByLanguage[lang] {
		path := filepath.Join(dir, manifest)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		parsed := parseManifest(manifest, string(data))
		for i := range parsed {
			parsed[i].Source = path
		}
		e.logger.Debug("Parsed manifest",
			zap.String("manifest", path), zap.Int("dependencies", len(parsed)))
		out = append(out, parsed...)
	}
	return normalize(out)
}

// ExtractAll runs Extract for every supported language.
func (e *Extractor) ExtractAll(dir string) []schemas.Dependency {
	var out []schemas.Dependency
	for _, lang := range []schemas.Language{schemas.LangPython, schemas.LangGo, schemas.LangJava} {
		out = append(out, e.Extract(dir, lang)...)
	}
	return out
}

func parseManifest(name, content string) []schemas.Dependency {
	switch name {
	case "requirements.txt":
		return parseRequirements(content)
	case "setup.py":
		return parseSetupPy(content)
	case "go.mod":
		return parseGoMod(content)
	case "pom.xml":
		return parsePom(content)
	case "build.gradle":
		return parseGradle(content)
	default:
		return nil
	}
}

func parseRequirements(content string) []schemas.Dependency {
	var out []schemas.Dependency
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		m := reRequirement.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, schemas.Dependency{
			Name:      m[1],
			Version:   m[2],
			Ecosystem: EcosystemPyPI,
			Language:  schemas.LangPython,
		})
	}
	return out
}

func parseSetupPy(content string) []schemas.Dependency {
	// Only the install_requires list is interesting; a regex over quoted
	// specifiers is what the manifest grammar amounts to in practice.
	idx := strings.Index(content, "install_requires")
	if idx < 0 {
		return nil
	}
	section := content[idx:]
	if end := strings.Index(section, "]"); end >= 0 {
		section = section[:end]
	}
	var out []schemas.Dependency
	for _, m := range reSetupPy.FindAllStringSubmatch(section, -1) {
		out = append(out, schemas.Dependency{
			Name:      m[1],
			Version:   m[2],
			Ecosystem: EcosystemPyPI,
			Language:  schemas.LangPython,
		})
	}
	return out
}

func parseGoMod(content string) []schemas.Dependency {
	var out []schemas.Dependency
	for _, m := range reGoMod.FindAllStringSubmatch(content, -1) {
		out = append(out, schemas.Dependency{
			Name:      m[1],
			Version:   m[2],
			Ecosystem: EcosystemGo,
			Language:  schemas.LangGo,
		})
	}
	return out
}

func parsePom(content string) []schemas.Dependency {
	var out []schemas.Dependency
	for _, m := range rePomDep.FindAllStringSubmatch(content, -1) {
		out = append(out, schemas.Dependency{
			Name:      m[1] + ":" + m[2],
			Version:   m[3],
			Ecosystem: EcosystemMaven,
			Language:  schemas.LangJava,
		})
	}
	return out
}

func parseGradle(content string) []schemas.Dependency {
	var out []schemas.Dependency
	for _, m := range reGradleDep.FindAllStringSubmatch(content, -1) {
		out = append(out, schemas.Dependency{
			Name:      m[1] + ":" + m[2],
			Version:   m[3],
			Ecosystem: EcosystemMaven,
			Language:  schemas.LangJava,
		})
	}
	return out
}

// normalize lowercases PyPI names, strips version noise, and dedupes repeated
// declarations. Output order is deterministic.
func normalize(deps []schemas.Dependency) []schemas.Dependency {
	seen := make(map[string]bool, len(deps))
	out := make([]schemas.Dependency, 0, len(deps))
	for _, d := range deps {
		if d.Ecosystem == EcosystemPyPI {
			d.Name = strings.ToLower(strings.ReplaceAll(d.Name, "_", "-"))
		}
		d.Version = strings.TrimPrefix(strings.TrimSpace(d.Version), "v")
		key := d.Ecosystem + "|" + d.Name + "|" + d.Version
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ecosystem != out[j].Ecosystem {
			return out[i].Ecosystem < out[j].Ecosystem
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out
}
