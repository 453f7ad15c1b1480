// Package platform holds the per-platform configuration tables the engine
// treats as immutable inputs: CSS selectors for login and navigation, screen
// regions with their detection rules, and the nudge action for stalled video.
// Tables are YAML files, one per platform, under a configurable directory.
package platform

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/certflow/certflow/errors"
)

// RegionKind discriminates how a region is analyzed.
type RegionKind string

const (
	// RegionColorRange regions are masked with an HSV band; used for
	// progress bars where fill fraction matters.
	RegionColorRange RegionKind = "color_range"
	// RegionTemplate regions are matched against a template image.
	RegionTemplate RegionKind = "template"
)

// Rect is a pixel rectangle within a captured frame.
type Rect struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	W int `yaml:"w"`
	H int `yaml:"h"`
}

// HSV is a single point in HSV color space. H is degrees [0, 360);
// S and V are fractions [0, 1].
type HSV struct {
	H float64 `yaml:"h"`
	S float64 `yaml:"s"`
	V float64 `yaml:"v"`
}

// HSVRange is an inclusive band in HSV space.
type HSVRange struct {
	Min HSV `yaml:"min"`
	Max HSV `yaml:"max"`
}

// Region is one configured area of interest on a platform's course page.
type Region struct {
	ID   string     `yaml:"id"`
	Kind RegionKind `yaml:"kind"`
	Rect Rect       `yaml:"rect"`

	// Color-range regions only.
	HSV *HSVRange `yaml:"hsv,omitempty"`

	// Template regions only. Template is a path relative to the platform
	// table's directory; Classifies names the detection classification a
	// match produces (quiz_visible, assignment_visible, certificate_visible).
	Template   string  `yaml:"template,omitempty"`
	Classifies string  `yaml:"classifies,omitempty"`
	Confidence float64 `yaml:"confidence,omitempty"`
}

// Platform is one platform's full configuration table.
type Platform struct {
	ID            string            `yaml:"id"`
	Name          string            `yaml:"name"`
	LoginURL      string            `yaml:"login_url"`
	Selectors     map[string]string `yaml:"selectors"`
	NudgeSelector string            `yaml:"nudge_selector"`
	Regions       []Region          `yaml:"regions"`
}

// Selector names the engine requires from every platform table.
const (
	SelectorUsername = "username"
	SelectorPassword = "password"
	SelectorSubmit   = "submit"
)

// Selector returns the CSS selector registered under name.
func (p *Platform) Selector(name string) (string, error) {
	sel, ok := p.Selectors[name]
	if !ok || sel == "" {
		return "", errors.Wrapf(errors.ErrSelectorMissing, "platform %s: selector %q", p.ID, name)
	}
	return sel, nil
}

// Region returns the region registered under id, or nil if absent.
func (p *Platform) Region(id string) *Region {
	for i := range p.Regions {
		if p.Regions[i].ID == id {
			return &p.Regions[i]
		}
	}
	return nil
}

// Validate checks the table is complete enough to drive a course run.
func (p *Platform) Validate() error {
	if p.ID == "" {
		return errors.New("platform table missing id")
	}
	if p.LoginURL == "" {
		return errors.Newf("platform %s: login_url is required", p.ID)
	}
	for _, required := range []string{SelectorUsername, SelectorPassword, SelectorSubmit} {
		if _, err := p.Selector(required); err != nil {
			return err
		}
	}
	if len(p.Regions) == 0 {
		return errors.Newf("platform %s: at least one region is required", p.ID)
	}
	for _, r := range p.Regions {
		if r.Rect.W <= 0 || r.Rect.H <= 0 {
			return errors.Newf("platform %s: region %s has empty rect", p.ID, r.ID)
		}
		switch r.Kind {
		case RegionColorRange:
			if r.HSV == nil {
				return errors.Newf("platform %s: color_range region %s missing hsv band", p.ID, r.ID)
			}
		case RegionTemplate:
			if r.Template == "" {
				return errors.Newf("platform %s: template region %s missing template path", p.ID, r.ID)
			}
		default:
			return errors.Newf("platform %s: region %s has unknown kind %q", p.ID, r.ID, r.Kind)
		}
	}
	return nil
}

// LoadFile parses and validates a single platform table.
func LoadFile(path string) (*Platform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read platform table %s", path)
	}

	var p Platform
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrapf(err, "parse platform table %s", path)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
