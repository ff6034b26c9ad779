// Package prompts holds the versioned role instructions of the medical agents.
//
// Each version is an embedded YAML file carrying one prompt per role and the
// template that appends known patient information to the patient-facing
// prompt.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/medmesh/internal/util"
)

// DefaultVersion is the prompt version used when none is configured.
const DefaultVersion = "v1.0"

// Prompt keys.
const (
	PatientFacing = "patient_facing_agent"
	Research      = "research_agent"
	PseudoPhD     = "pseudo_phd_agent"
	Orchestrator  = "orchestrator_agent"
)

var (
	// ErrUnknownVersion is returned by Load for a version with no embedded file.
	ErrUnknownVersion = errors.New("prompts: unknown version")
	// ErrUnknownRole is returned by Get for a role missing from the set.
	ErrUnknownRole = errors.New("prompts: unknown role")
)

//go:embed *.yaml
var files embed.FS

// Set is one version of the role prompts.
type Set struct {
	Version            string            `yaml:"version"`
	Prompts            map[string]string `yaml:"prompts"`
	PatientMemoryBlock string            `yaml:"patient_memory_block"`
}

// Versions lists the embedded prompt versions in lexical order.
func Versions() []string {
	entries, _ := files.ReadDir(".")
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if name := e.Name(); path.Ext(name) == ".yaml" {
			out = append(out, strings.TrimSuffix(name, ".yaml"))
		}
	}
	sort.Strings(out)
	return out
}

// Load parses the embedded prompt set for version ("" selects DefaultVersion).
func Load(version string) (*Set, error) {
	if version == "" {
		version = DefaultVersion
	}
	data, err := files.ReadFile(version + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("prompts: parse %s: %w", version, err)
	}
	for _, role := range []string{PatientFacing, Research, PseudoPhD, Orchestrator} {
		if strings.TrimSpace(s.Prompts[role]) == "" {
			return nil, fmt.Errorf("prompts: %s: %w: %s", version, ErrUnknownRole, role)
		}
	}
	return &s, nil
}

// MustLoad is like Load but panics on error. Intended for embedded versions
// known at compile time.
func MustLoad(version string) *Set {
	s, err := Load(version)
	if err != nil {
		panic(err)
	}
	return s
}

// Get returns the prompt for role.
func (s *Set) Get(role string) (string, error) {
	p, ok := s.Prompts[role]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	return p, nil
}

// PatientInstructions returns the patient-facing prompt, extended with the
// known patient information block when memories is non-empty.
func (s *Set) PatientInstructions(memories string) (string, error) {
	base, err := s.Get(PatientFacing)
	if err != nil {
		return "", err
	}
	if memories == "" {
		return base, nil
	}
	return util.RenderTemplate(s.PatientMemoryBlock, map[string]any{
		"base":     base,
		"memories": memories,
	})
}
