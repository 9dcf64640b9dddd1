// Package prompts renders the report agent's system and user prompts.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/vasu-devs/Socratis/internal/model"
)

// Placeholders used when an artifact is empty.
const (
	NoCode       = "// No code submitted"
	NoTranscript = "(No transcript available - candidate did not verbalize their thought process)"
)

const (
	maxCodeRunes       = 20000
	maxTranscriptRunes = 40000
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var artifactTagRegex = regexp.MustCompile(`(?i)</?\s*(candidate-code|interview-transcript|system-instructions)\b[^>]*>`)

var (
	loadOnce  sync.Once
	loadErr   error
	templates *template.Template
)

func load() error {
	loadOnce.Do(func() {
		templates, loadErr = template.ParseFS(templateFS, "templates/*.tmpl")
		if loadErr != nil {
			loadErr = fmt.Errorf("parse prompt templates: %w", loadErr)
		}
	})
	return loadErr
}

// SystemData holds template data for the system prompt.
type SystemData struct {
	Title       string
	Description string
	Examples    []string
}

// UserData holds template data for the user prompt.
type UserData struct {
	Code       string
	Transcript string
}

// BuildSystem renders the system prompt for a question.
func BuildSystem(q model.Question) (string, error) {
	return render("system.tmpl", SystemData{
		Title:       q.Title,
		Description: q.Description,
		Examples:    q.Examples,
	})
}

// BuildUser renders the user prompt carrying the candidate's artifacts.
func BuildUser(code string, transcript []model.TranscriptEntry) (string, error) {
	return render("user.tmpl", UserData{
		Code:       NumberCode(code),
		Transcript: FormatTranscript(transcript),
	})
}

func render(name string, data any) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// NumberCode prefixes each line with its 1-based number ("3: x := 1").
func NumberCode(code string) string {
	code = sanitize(code, maxCodeRunes)
	if strings.TrimSpace(code) == "" {
		return NoCode
	}
	lines := strings.Split(code, "\n")
	var sb strings.Builder
	for i, line := range lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d: %s", i+1, line)
	}
	return sb.String()
}

// FormatTranscript renders entries as "[01] INTERVIEWER: ..." blocks.
func FormatTranscript(entries []model.TranscriptEntry) string {
	if len(entries) == 0 {
		return NoTranscript
	}
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		label := "CANDIDATE"
		if e.Role == model.RoleInterviewer {
			label = "INTERVIEWER"
		}
		fmt.Fprintf(&sb, "[%02d] %s: %s", i+1, label, sanitize(e.Content, maxTranscriptRunes))
	}
	return sanitize(sb.String(), maxTranscriptRunes)
}

// sanitize strips tags that would let an artifact escape its delimiters and
// caps its length.
func sanitize(s string, limit int) string {
	s = artifactTagRegex.ReplaceAllString(s, "")
	if utf8.RuneCountInString(s) > limit {
		runes := []rune(s)
		s = string(runes[:limit]) + "\n[truncated due to length]"
	}
	return s
}
