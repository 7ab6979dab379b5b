package llm

import (
	"fmt"
	"io/fs"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompt is one versioned template loaded from disk. Templates are files
// named "{id}@{version}.md" with a yaml front-matter header between "---"
// lines, followed by the body.
type Prompt struct {
	ID            string
	Version       string
	SchemaID      string
	Temperature   float64
	MaxTokens     int
	Body          string
}

type promptHeader struct {
	ID            string `yaml:"id"`
	Version       string `yaml:"version"`
	SchemaID      string `yaml:"schema_id"`
	ModelDefaults struct {
		Temperature float64 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
	} `yaml:"model_defaults"`
}

// LoadPrompt reads the template for (id, version) and verifies the header
// matches the request.
func LoadPrompt(fsys fs.FS, id, version string) (*Prompt, error) {
	name := fmt.Sprintf("%s@%s.md", id, version)
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt %s: %w", name, err)
	}

	header, body, err := splitFrontMatter(string(data))
	if err != nil {
		return nil, fmt.Errorf("prompt %s: %w", name, err)
	}

	var h promptHeader
	if err := yaml.Unmarshal([]byte(header), &h); err != nil {
		return nil, fmt.Errorf("prompt %s: invalid header: %w", name, err)
	}
	if h.ID != id {
		return nil, fmt.Errorf("prompt %s: header id %q does not match requested %q", name, h.ID, id)
	}
	if h.Version != version {
		return nil, fmt.Errorf("prompt %s: header version %q does not match requested %q", name, h.Version, version)
	}

	return &Prompt{
		ID:          h.ID,
		Version:     h.Version,
		SchemaID:    h.SchemaID,
		Temperature: h.ModelDefaults.Temperature,
		MaxTokens:   h.ModelDefaults.MaxTokens,
		Body:        body,
	}, nil
}

func splitFrontMatter(s string) (header, body string, err error) {
	const delim = "---"
	s = strings.TrimLeft(s, "\n")
	if !strings.HasPrefix(s, delim) {
		return "", "", fmt.Errorf("missing front-matter header")
	}
	rest := s[len(delim):]
	idx := strings.Index(rest, "\n"+delim)
	if idx < 0 {
		return "", "", fmt.Errorf("unterminated front-matter header")
	}
	header = rest[:idx]
	body = rest[idx+len(delim)+1:]
	body = strings.TrimPrefix(body, "\n")
	return header, body, nil
}

var placeholderRegex = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// Render substitutes {{name}} placeholders from vars. Unknown placeholders
// are left intact; that is documented behavior, not an error.
func Render(body string, vars map[string]string) string {
	return placeholderRegex.ReplaceAllStringFunc(body, func(match string) string {
		name := placeholderRegex.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}
