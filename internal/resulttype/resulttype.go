// Package resulttype is the closed registry of examination result variants.
// Each variant bundles the validation rules and response shaping for one
// assay kind, selected at runtime by the type tag carried on examination
// records. Adding an assay means registering one more variant here; the
// record store never changes.
package resulttype

import (
	"fmt"
	"sort"
	"strings"

	"github.com/medscreen/screening-registry/config"
)

// Variant is one assay kind's capability bundle. Validate enforces the
// variant's content rules under externally supplied limits; the two
// formatters exist because the full-document view exposes raw marker
// sub-results while the list view reduces them to a count.
type Variant interface {
	Tag() string
	Validate(limits config.ResultLimits, results map[string]any) error
	FormatDocument(results map[string]any) map[string]any
	FormatSummary(results map[string]any) map[string]any
}

type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

// Registry is an immutable tag→variant table, built once at process start.
type Registry struct {
	variants map[string]Variant
}

func NewRegistry(variants ...Variant) *Registry {
	m := make(map[string]Variant, len(variants))
	for _, v := range variants {
		m[v.Tag()] = v
	}
	return &Registry{variants: m}
}

// Default returns the registry of assays the service ships with.
func Default() *Registry {
	return NewRegistry(HIV, HCV)
}

// Lookup resolves a type tag. An unknown tag reports false; it is a lookup
// failure for the caller to surface, never a crash.
func (r *Registry) Lookup(tag string) (Variant, bool) {
	v, ok := r.variants[tag]
	return v, ok
}

func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.variants))
	for tag := range r.variants {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

var resultCodes = map[string]bool{
	"positive":      true,
	"negative":      true,
	"indeterminate": true,
}

// assay is the common machinery behind the shipped variants: a set of coded
// result fields of which at least one must be present (an empty result is
// meaningless), optional free-text fields, and the marker sub-collection.
type assay struct {
	tag   string
	coded []string
	free  []string
}

func (a assay) Tag() string { return a.tag }

func (a assay) Validate(limits config.ResultLimits, results map[string]any) error {
	var errs []string

	known := map[string]bool{"markers": true}
	for _, f := range a.coded {
		known[f] = true
	}
	for _, f := range a.free {
		known[f] = true
	}
	for field := range results {
		if !known[field] {
			errs = append(errs, fmt.Sprintf("%s is not a %s result field", field, a.tag))
		}
	}

	present := false
	for _, f := range a.coded {
		v, ok := results[f]
		if !ok {
			continue
		}
		s, isString := v.(string)
		switch {
		case !isString:
			errs = append(errs, f+" must be a string")
		case s == "":
			errs = append(errs, f+" must not be empty")
		case !resultCodes[s]:
			errs = append(errs, f+" must be one of positive, negative, indeterminate")
		default:
			present = true
		}
	}
	if !present {
		errs = append(errs, "at least one of "+strings.Join(a.coded, ", ")+" must be present")
	}

	for _, f := range a.free {
		v, ok := results[f]
		if !ok {
			continue
		}
		s, isString := v.(string)
		switch {
		case !isString:
			errs = append(errs, f+" must be a string")
		case s == "":
			errs = append(errs, f+" must not be empty")
		case len(s) > limits.MaxFieldLength:
			errs = append(errs, fmt.Sprintf("%s exceeds %d characters", f, limits.MaxFieldLength))
		}
	}

	if raw, ok := results["markers"]; ok {
		errs = append(errs, validateMarkers(limits, raw)...)
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func validateMarkers(limits config.ResultLimits, raw any) []string {
	markers, ok := raw.([]any)
	if !ok {
		return []string{"markers must be a list"}
	}
	if len(markers) > limits.MaxMarkers {
		return []string{fmt.Sprintf("markers exceeds %d entries", limits.MaxMarkers)}
	}

	var errs []string
	for i, m := range markers {
		entry, ok := m.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Sprintf("markers[%d] must be an object", i))
			continue
		}
		name, _ := entry["name"].(string)
		if name == "" {
			errs = append(errs, fmt.Sprintf("markers[%d].name is required", i))
		} else if len(name) > limits.MaxFieldLength {
			errs = append(errs, fmt.Sprintf("markers[%d].name exceeds %d characters", i, limits.MaxFieldLength))
		}
		if value, ok := entry["value"].(string); ok && len(value) > limits.MaxFieldLength {
			errs = append(errs, fmt.Sprintf("markers[%d].value exceeds %d characters", i, limits.MaxFieldLength))
		}
	}
	return errs
}

// FormatDocument shapes the full-document response: every known field plus
// the raw marker sub-results.
func (a assay) FormatDocument(results map[string]any) map[string]any {
	out := map[string]any{"assayType": a.tag}
	for _, f := range a.coded {
		if v, ok := results[f]; ok {
			out[f] = v
		}
	}
	for _, f := range a.free {
		if v, ok := results[f]; ok {
			out[f] = v
		}
	}
	if markers, ok := results["markers"].([]any); ok {
		out["markers"] = markers
	}
	return out
}

// FormatSummary shapes the list-view response: like FormatDocument but with
// the marker collection reduced to a count.
func (a assay) FormatSummary(results map[string]any) map[string]any {
	out := a.FormatDocument(results)
	count := 0
	if markers, ok := out["markers"].([]any); ok {
		count = len(markers)
	}
	delete(out, "markers")
	out["markerCount"] = count
	return out
}
