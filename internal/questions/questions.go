// Package questions holds the catalog of interview problems that sessions
// draw from.
package questions

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vasu-devs/Socratis/internal/model"
)

//go:embed catalog/*.yaml
var catalogFS embed.FS

// ErrEmpty is returned when a draw is requested from an empty pool.
var ErrEmpty = errors.New("question pool is empty")

// Pool is an ordered, de-duplicated set of questions.
type Pool struct {
	questions []model.Question
	titles    map[string]bool
	shuffle   func(n int, swap func(i, j int))
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{
		titles:  make(map[string]bool),
		shuffle: rand.Shuffle,
	}
}

// Default returns a pool seeded with the embedded catalog.
func Default() (*Pool, error) {
	p := NewPool()
	entries, err := catalogFS.ReadDir("catalog")
	if err != nil {
		return nil, fmt.Errorf("read catalog dir: %w", err)
	}
	for _, e := range entries {
		data, err := catalogFS.ReadFile("catalog/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read catalog file %s: %w", e.Name(), err)
		}
		if _, err := p.Add(e.Name(), data); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Load adds questions from JSON or YAML files, chosen by extension.
func (p *Pool) Load(paths ...string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		n, err := p.Add(path, data)
		if err != nil {
			return err
		}
		slog.Info("loaded questions", "path", path, "count", n)
	}
	return nil
}

// Add parses a catalog document and appends its questions. Questions whose
// title is already present are skipped. It returns the number added.
func (p *Pool) Add(name string, data []byte) (int, error) {
	var qs []model.Question
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		if err := json.Unmarshal(data, &qs); err != nil {
			return 0, fmt.Errorf("parse %s: %w", name, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &qs); err != nil {
			return 0, fmt.Errorf("parse %s: %w", name, err)
		}
	default:
		return 0, fmt.Errorf("unsupported catalog format %q", name)
	}

	added := 0
	for i, q := range qs {
		if strings.TrimSpace(q.Title) == "" {
			return added, fmt.Errorf("%s: question %d has no title", name, i)
		}
		if p.titles[q.Title] {
			slog.Warn("duplicate question title, skipping", "source", name, "title", q.Title)
			continue
		}
		if q.Examples == nil {
			q.Examples = []string{}
		}
		p.titles[q.Title] = true
		p.questions = append(p.questions, q)
		added++
	}
	return added, nil
}

// Len returns the number of questions in the pool.
func (p *Pool) Len() int { return len(p.questions) }

// All returns a copy of every question in catalog order.
func (p *Pool) All() []model.Question {
	return append([]model.Question(nil), p.questions...)
}

// Draw returns n questions for a new session. n <= 0 or n larger than the
// pool means every question. With shuffle the selection is a random subset
// in random order; without it the first n questions in catalog order.
func (p *Pool) Draw(n int, shuffle bool) ([]model.Question, error) {
	if len(p.questions) == 0 {
		return nil, ErrEmpty
	}
	all := p.All()
	if shuffle {
		p.shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	}
	if n > 0 && n < len(all) {
		all = all[:n]
	}
	return all, nil
}
