package build

import (
	"path/filepath"
	"strings"
)

// Command holds the compile/run templates for one source-file extension.
// Templates may reference {src} (source file), {exe} (scratch binary
// path), and {src_base} (source file name without extension). Stdout of
// the run step is the captured output; the templates never redirect it.
type Command struct {
	Compile string `json:"compile,omitempty"`
	Run     string `json:"run"`
}

// defaultCommands covers the common interpreters and compilers. The JSON
// config's build_commands map overrides or extends these per extension.
var defaultCommands = map[string]Command{
	".py":  {Run: "python3 {src}"},
	".js":  {Run: "node {src}"},
	".rb":  {Run: "ruby {src}"},
	".sh":  {Run: "bash {src}"},
	".go":  {Run: "go run {src}"},
	".cpp": {Compile: "g++ -o {exe} {src}", Run: "{exe}"},
	".c":   {Compile: "gcc -o {exe} {src}", Run: "{exe}"},
	".rs":  {Compile: "rustc {src} -o {exe}", Run: "{exe}"},
}

// commandFor returns the command templates for a source file, with
// overrides taking precedence over the built-in table.
func commandFor(src string, overrides map[string]Command) (Command, bool) {
	ext := strings.ToLower(filepath.Ext(src))
	if c, ok := overrides[ext]; ok {
		return c, true
	}
	c, ok := defaultCommands[ext]
	return c, ok
}

// expandCommand substitutes the {src}/{exe}/{src_base} placeholders.
func expandCommand(tmpl, src, exe string) string {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	out := strings.ReplaceAll(tmpl, "{src}", src)
	out = strings.ReplaceAll(out, "{exe}", exe)
	out = strings.ReplaceAll(out, "{src_base}", base)
	return out
}

// stem returns the file name without its extension.
func stem(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
