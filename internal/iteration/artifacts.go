package iteration

import (
	"regexp"
	"strings"
)

// artifactRe matches a "FILE: path" line followed by a fenced code block.
// The fence may carry a language tag.
var artifactRe = regexp.MustCompile("(?m)^" + filePrefix + `[ \t]*(\S+)[ \t]*\n` + "```[^\n]*\n((?s:.*?))```")

// extractArtifacts pulls file-creation instructions out of a reply. The
// scheduler only records them; nothing is written to disk here.
func extractArtifacts(reply string) []Artifact {
	var out []Artifact
	for _, m := range artifactRe.FindAllStringSubmatch(reply, -1) {
		path := strings.TrimSpace(m[1])
		if path == "" {
			continue
		}
		out = append(out, Artifact{
			Path:    path,
			Content: strings.TrimRight(m[2], "\n") + "\n",
		})
	}
	return out
}
