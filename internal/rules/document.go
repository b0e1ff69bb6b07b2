package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the declarative rules configuration. Sections and rules keep
// the order they were written in, since that order decides match priority.
// JSON documents are read through the YAML decoder.
type Document struct {
	Sections []Section
}

type Section struct {
	Name              string      `yaml:"-"`
	Active            bool        `yaml:"active"`
	PhaseStartPattern string      `yaml:"phase_start_pattern"`
	PhaseEndPattern   string      `yaml:"phase_end_pattern"`
	Silent            bool        `yaml:"silent"`
	Rules             RuleEntries `yaml:"rules"`
}

type RuleEntries []RuleConfig

type RuleConfig struct {
	Name                      string   `yaml:"-"`
	Active                    bool     `yaml:"active"`
	StartPattern              string   `yaml:"start_pattern"`
	EndPattern                string   `yaml:"end_pattern"`
	StoreLines                bool     `yaml:"store_lines"`
	IgnoreLines               []string `yaml:"ignore_lines"`
	FetchLineAtIndex          *int     `yaml:"fetch_line_at_index"`
	FetchFirstLineNotMatching []string `yaml:"fetch_first_line_not_matching"`
	FetchedLinePattern        string   `yaml:"fetched_line_pattern"`
	StartMessage              *string  `yaml:"start_message"`
	EndMessage                *string  `yaml:"end_message"`
	FetchedLineMessage        *string  `yaml:"fetched_line_message"`
	Severity                  string   `yaml:"severity"`
}

func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return doc, nil
}

func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) UnmarshalYAML(node *yaml.Node) error {
	return eachPair(node, "document", func(key string, value *yaml.Node) error {
		var sec Section
		if err := value.Decode(&sec); err != nil {
			return fmt.Errorf("section %s: %w", key, err)
		}
		sec.Name = key
		d.Sections = append(d.Sections, sec)
		return nil
	})
}

func (r *RuleEntries) UnmarshalYAML(node *yaml.Node) error {
	return eachPair(node, "rules", func(key string, value *yaml.Node) error {
		var rc RuleConfig
		if err := value.Decode(&rc); err != nil {
			return fmt.Errorf("rule %s: %w", key, err)
		}
		rc.Name = key
		*r = append(*r, rc)
		return nil
	})
}

func eachPair(node *yaml.Node, what string, fn func(key string, value *yaml.Node) error) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: %s must be a mapping", node.Line, what)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := fn(node.Content[i].Value, node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}
