package format

import "strings"

// langAliases maps common shorthand fence tags to their canonical names so
// syntax highlighting works on clients that only know the long form.
var langAliases = map[string]string{
	"py":         "python",
	"python3":    "python",
	"js":         "javascript",
	"node":       "javascript",
	"mjs":        "javascript",
	"ts":         "typescript",
	"rb":         "ruby",
	"golang":     "go",
	"sh":         "bash",
	"shell":      "bash",
	"zsh":        "bash",
	"yml":        "yaml",
	"c++":        "cpp",
	"hpp":        "cpp",
	"c#":         "csharp",
	"cs":         "csharp",
	"kt":         "kotlin",
	"rs":         "rust",
	"ps1":        "powershell",
	"psh":        "powershell",
	"md":         "markdown",
	"jsonc":      "json",
	"htm":        "html",
	"dockerfile": "docker",
}

// normalizeLang canonicalizes a fence language tag: trim, lowercase, then
// resolve known aliases. Unknown tags pass through lowercased.
func normalizeLang(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if canonical, ok := langAliases[tag]; ok {
		return canonical
	}
	return tag
}
