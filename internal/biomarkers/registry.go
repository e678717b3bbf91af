package biomarkers

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed registry.yaml
var registryYAML []byte

const (
	PolarityHigherIsBetter = "higher_is_better"
	PolarityLowerIsBetter  = "lower_is_better"
	PolarityTargetRange    = "target_range"
)

type Definition struct {
	Key          string   `yaml:"key"`
	DisplayName  string   `yaml:"display_name"`
	Unit         string   `yaml:"unit"`
	RefLow       *float64 `yaml:"ref_low"`
	RefHigh      *float64 `yaml:"ref_high"`
	OptimalLow   *float64 `yaml:"optimal_low"`
	OptimalHigh  *float64 `yaml:"optimal_high"`
	OptimalPoint *float64 `yaml:"optimal_point"`
	Polarity     string   `yaml:"polarity"`
	Category     string   `yaml:"category"`
	Aliases      []string `yaml:"aliases"`
}

type Conversion struct {
	Key      string  `yaml:"key"`
	FromUnit string  `yaml:"from_unit"`
	Factor   float64 `yaml:"factor"`
}

type Mechanism struct {
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name"`
	Metrics     []string `yaml:"metrics"`
}

type registryFile struct {
	Biomarkers  []Definition `yaml:"biomarkers"`
	Conversions []Conversion `yaml:"conversions"`
	Mechanisms  []Mechanism  `yaml:"mechanisms"`
}

// Registry is the immutable canonical biomarker table. Built once with Load;
// no side-effect registration.
type Registry struct {
	defs        map[string]*Definition
	aliasIndex  map[string]string // normalized alias -> key
	conversions map[string]map[string]float64
	mechanisms  []Mechanism
	mechByKey   map[string][]string
	keys        []string
}

var (
	loadOnce sync.Once
	loaded   *Registry
	loadErr  error
)

// Load parses the embedded table. Safe to call repeatedly; parsing happens once.
func Load() (*Registry, error) {
	loadOnce.Do(func() {
		loaded, loadErr = parse(registryYAML)
	})
	return loaded, loadErr
}

func parse(raw []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("biomarker registry: %w", err)
	}
	if len(file.Biomarkers) == 0 {
		return nil, fmt.Errorf("biomarker registry: no definitions")
	}

	r := &Registry{
		defs:        make(map[string]*Definition, len(file.Biomarkers)),
		aliasIndex:  map[string]string{},
		conversions: map[string]map[string]float64{},
		mechanisms:  file.Mechanisms,
		mechByKey:   map[string][]string{},
	}
	for i := range file.Biomarkers {
		def := &file.Biomarkers[i]
		if def.Key == "" {
			return nil, fmt.Errorf("biomarker registry: definition %d has no key", i)
		}
		if _, dup := r.defs[def.Key]; dup {
			return nil, fmt.Errorf("biomarker registry: duplicate key %q", def.Key)
		}
		r.defs[def.Key] = def
		r.keys = append(r.keys, def.Key)
		r.aliasIndex[normalizeName(def.Key)] = def.Key
		r.aliasIndex[normalizeName(def.DisplayName)] = def.Key
		for _, a := range def.Aliases {
			r.aliasIndex[normalizeName(a)] = def.Key
		}
	}
	sort.Strings(r.keys)

	for _, c := range file.Conversions {
		if _, ok := r.defs[c.Key]; !ok {
			return nil, fmt.Errorf("biomarker registry: conversion for unknown key %q", c.Key)
		}
		m := r.conversions[c.Key]
		if m == nil {
			m = map[string]float64{}
			r.conversions[c.Key] = m
		}
		m[normalizeUnit(c.FromUnit)] = c.Factor
	}

	for _, mech := range file.Mechanisms {
		for _, metric := range mech.Metrics {
			if _, ok := r.defs[metric]; !ok {
				return nil, fmt.Errorf("biomarker registry: mechanism %q references unknown metric %q", mech.Name, metric)
			}
			r.mechByKey[metric] = append(r.mechByKey[metric], mech.Name)
		}
	}
	return r, nil
}

func (r *Registry) Get(key string) *Definition {
	return r.defs[key]
}

// Keys returns all canonical keys sorted, for deterministic iteration.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

func (r *Registry) Categories() []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range r.keys {
		c := r.defs[k].Category
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Mechanisms() []Mechanism {
	out := make([]Mechanism, len(r.mechanisms))
	copy(out, r.mechanisms)
	return out
}

// MechanismsFor returns the linkage group names a metric belongs to.
func (r *Registry) MechanismsFor(key string) []string {
	return r.mechByKey[key]
}

// Normalize maps a raw test name to a canonical key: exact key match, then
// alias table, then normalized-token match. Unmatched names return ("", false).
func (r *Registry) Normalize(rawName string) (string, bool) {
	name := normalizeName(rawName)
	if name == "" {
		return "", false
	}
	if _, ok := r.defs[name]; ok {
		return name, true
	}
	if key, ok := r.aliasIndex[name]; ok {
		return key, true
	}
	// Token match: every token of a known alias present in the raw name, and
	// the alias covering at least half the raw tokens (so a one-word alias
	// cannot claim a long unrelated name).
	rawTokens := tokenSet(name)
	minCover := (len(rawTokens) + 1) / 2
	bestKey := ""
	bestLen := 0
	for alias, key := range r.aliasIndex {
		aliasTokens := strings.Fields(alias)
		if len(aliasTokens) < minCover || len(aliasTokens) <= bestLen {
			continue
		}
		all := true
		for _, tok := range aliasTokens {
			if !rawTokens[tok] {
				all = false
				break
			}
		}
		// Longest alias wins so "free testosterone" beats "testosterone".
		if all {
			bestKey = key
			bestLen = len(aliasTokens)
		}
	}
	if bestKey != "" {
		return bestKey, true
	}
	return "", false
}

// ConvertUnit converts a value into the biomarker's canonical unit. The third
// return is false when the unit is unknown for the key (value passes through).
func (r *Registry) ConvertUnit(key string, value float64, fromUnit string) (float64, string, bool) {
	def := r.defs[key]
	if def == nil {
		return value, fromUnit, false
	}
	from := normalizeUnit(fromUnit)
	if from == "" || from == normalizeUnit(def.Unit) {
		return value, def.Unit, false
	}
	if factors, ok := r.conversions[key]; ok {
		if f, ok := factors[from]; ok {
			return value * f, def.Unit, true
		}
	}
	return value, fromUnit, false
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func tokenSet(normalized string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Fields(normalized) {
		out[tok] = true
	}
	return out
}

func normalizeUnit(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	u = strings.ReplaceAll(u, " ", "")
	u = strings.ReplaceAll(u, "µ", "u")
	return u
}
