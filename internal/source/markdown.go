package source

import (
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

const frontMatterDelim = "---"

// ParseMarkdown splits optional YAML front matter from a markdown file.
// The front matter's url key becomes the reference. Without front matter,
// or when it does not parse as a YAML mapping, the whole content is the
// body and the reference is empty.
func ParseMarkdown(content []byte) (reference, body string) {
	text := string(content)
	if !strings.HasPrefix(text, frontMatterDelim) {
		return "", text
	}

	end := strings.Index(text[len(frontMatterDelim):], frontMatterDelim)
	if end == -1 {
		return "", text
	}
	end += len(frontMatterDelim)

	var meta map[string]interface{}
	if err := yaml.Unmarshal([]byte(text[len(frontMatterDelim):end]), &meta); err != nil {
		return "", text
	}

	return cast.ToString(meta["url"]), strings.TrimSpace(text[end+len(frontMatterDelim):])
}

// isMarkdown matches the .md extension case-insensitively.
func isMarkdown(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".md")
}
