package ai

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed skills.yaml
var defaultSkillsRaw []byte

// skillAliases fold common spellings onto the ontology key.
var skillAliases = map[string]string{
	"postgres":     "postgresql",
	"powerbi":      "power bi",
	"sklearn":      "scikit-learn",
	"k8s":          "kubernetes",
	"golang":       "go",
	"google cloud": "gcp",
	"ab testing":   "a/b testing",
}

// SkillOntology maps skill names onto family codes.
type SkillOntology struct {
	families map[string]string
}

// NewSkillOntology loads the embedded defaults and layers overrides on top.
func NewSkillOntology(overrides map[string]string) (*SkillOntology, error) {
	var raw struct {
		Skills map[string]string `yaml:"skills"`
	}
	if err := yaml.Unmarshal(defaultSkillsRaw, &raw); err != nil {
		return nil, fmt.Errorf("parse embedded skills: %w", err)
	}
	families := make(map[string]string, len(raw.Skills)+len(overrides))
	for name, family := range raw.Skills {
		families[foldSkill(name)] = family
	}
	for name, family := range overrides {
		families[foldSkill(name)] = family
	}
	return &SkillOntology{families: families}, nil
}

// Lookup returns the family code for name, or nil when unmapped.
func (o *SkillOntology) Lookup(name string) *string {
	if o == nil {
		return nil
	}
	key := foldSkill(name)
	if alias, ok := skillAliases[key]; ok {
		key = alias
	}
	family, ok := o.families[key]
	if !ok {
		return nil
	}
	return &family
}

// Len is the number of mapped skills.
func (o *SkillOntology) Len() int {
	if o == nil {
		return 0
	}
	return len(o.families)
}

func foldSkill(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
