package scan

import "path"

// Manifest is a dependency manifest found in the repository, with the
// technology it implies.
type Manifest struct {
	Path string
	Tech string
}

var manifestTech = map[string]string{
	"go.mod":             "Go",
	"go.sum":             "Go",
	"package.json":       "JavaScript/Node.js",
	"pyproject.toml":     "Python",
	"requirements.txt":   "Python",
	"setup.py":           "Python",
	"Pipfile":            "Python",
	"Cargo.toml":         "Rust",
	"pom.xml":            "Java (Maven)",
	"build.gradle":       "Java/Kotlin (Gradle)",
	"build.gradle.kts":   "Kotlin (Gradle)",
	"Gemfile":            "Ruby",
	"composer.json":      "PHP",
	"mix.exs":            "Elixir",
	"CMakeLists.txt":     "C/C++ (CMake)",
	"Dockerfile":         "Docker",
	"docker-compose.yml": "Docker Compose",
}

// DetectManifests picks dependency manifests out of a file listing.
// The result keeps the listing's order, so it is deterministic for a
// sorted input.
func DetectManifests(paths []string) []Manifest {
	var found []Manifest
	for _, p := range paths {
		if tech, ok := manifestTech[path.Base(p)]; ok {
			found = append(found, Manifest{Path: p, Tech: tech})
		}
	}
	return found
}
