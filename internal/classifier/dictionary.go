package classifier

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var defaultDictionary []byte

// Category is one label of the dictionary with its trigger words
type Category struct {
	Label    string   `json:"label"`
	Triggers []string `json:"triggers"`
}

// Dictionary is the ordered, read-only category table.
// Declaration order is significant: it breaks ties between equal scores.
type Dictionary struct {
	categories []Category
}

// NewDictionary validates and normalizes categories into a Dictionary
func NewDictionary(categories []Category) (*Dictionary, error) {
	if len(categories) == 0 {
		return nil, errors.New("dictionary has no categories")
	}

	seen := make(map[string]bool, len(categories))
	out := make([]Category, 0, len(categories))
	for _, c := range categories {
		label := strings.TrimSpace(c.Label)
		if label == "" {
			return nil, errors.New("dictionary category with empty label")
		}
		if label == Uncategorized {
			return nil, fmt.Errorf("category label %q is reserved", label)
		}
		if seen[label] {
			return nil, fmt.Errorf("duplicate category %q", label)
		}
		seen[label] = true

		triggers := make([]string, 0, len(c.Triggers))
		for _, w := range c.Triggers {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				triggers = append(triggers, w)
			}
		}
		out = append(out, Category{Label: label, Triggers: triggers})
	}

	return &Dictionary{categories: out}, nil
}

// DefaultDictionary returns the built-in six-category dictionary
func DefaultDictionary() *Dictionary {
	d, err := LoadDictionary(bytes.NewReader(defaultDictionary))
	if err != nil {
		panic(fmt.Sprintf("embedded dictionary: %v", err))
	}
	return d
}

// LoadDictionaryFile reads a YAML dictionary from path
func LoadDictionaryFile(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer f.Close()

	return LoadDictionary(f)
}

// LoadDictionary parses a YAML mapping of label -> trigger list.
// Mapping order in the document becomes the dictionary order.
func LoadDictionary(r io.Reader) (*Dictionary, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode dictionary: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, errors.New("dictionary has no categories")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("dictionary must be a mapping, got line %d", root.Line)
	}

	categories := make([]Category, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]

		var triggers []string
		if err := value.Decode(&triggers); err != nil {
			return nil, fmt.Errorf("category %q: %w", key.Value, err)
		}
		categories = append(categories, Category{Label: key.Value, Triggers: triggers})
	}

	return NewDictionary(categories)
}

// Categories returns a copy of the categories in declaration order
func (d *Dictionary) Categories() []Category {
	out := make([]Category, len(d.categories))
	for i, c := range d.categories {
		out[i] = Category{Label: c.Label, Triggers: append([]string(nil), c.Triggers...)}
	}
	return out
}

// Labels returns category labels in declaration order
func (d *Dictionary) Labels() []string {
	labels := make([]string, len(d.categories))
	for i, c := range d.categories {
		labels[i] = c.Label
	}
	return labels
}
