package agents

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed prompts
var promptFiles embed.FS

// Prompt loads an embedded prompt template by name.
func Prompt(name string) (string, error) {
	content, err := promptFiles.ReadFile(fmt.Sprintf("prompts/%s.md", name))
	if err != nil {
		return "", fmt.Errorf("loading prompt %s: %w", name, err)
	}
	return string(content), nil
}

// RenderPrompt loads a template and substitutes {{.Key}} placeholders.
func RenderPrompt(name string, context map[string]string) (string, error) {
	content, err := Prompt(name)
	if err != nil {
		return "", err
	}
	for key, value := range context {
		content = strings.ReplaceAll(content, fmt.Sprintf("{{.%s}}", key), value)
	}
	return content, nil
}
