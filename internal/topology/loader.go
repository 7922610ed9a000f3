package topology

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/automesh/meshheal/internal/domain"
	"github.com/automesh/meshheal/internal/graph"
)

// ErrInvalidTopology wraps every structural problem found in a topology file
var ErrInvalidTopology = errors.New("invalid topology")

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// file is the on-disk layout. Weight is a pointer so an omitted weight can
// default to 1 while an explicit 0 is kept.
type file struct {
	Name  string        `yaml:"name"`
	Nodes []domain.Node `yaml:"nodes"`
	Links []linkEntry   `yaml:"links"`
}

type linkEntry struct {
	ID        string          `yaml:"id"`
	Source    string          `yaml:"source"`
	Target    string          `yaml:"target"`
	Kind      domain.LinkKind `yaml:"kind"`
	Weight    *float64        `yaml:"weight"`
	Status    domain.Status   `yaml:"status"`
	Redundant bool            `yaml:"redundant"`
}

// Load resolves nameOrPath as a preset name first, then as a YAML file
func Load(nameOrPath string) (domain.Topology, error) {
	if t, ok := Preset(nameOrPath); ok {
		return t, nil
	}
	data, err := os.ReadFile(nameOrPath)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Topology{}, fmt.Errorf("topology %q is neither a preset (%s) nor a file",
				nameOrPath, strings.Join(Presets(), ", "))
		}
		return domain.Topology{}, fmt.Errorf("read topology: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML topology
func Parse(data []byte) (domain.Topology, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return domain.Topology{}, fmt.Errorf("%w: %v", ErrInvalidTopology, err)
	}

	t := domain.Topology{Name: f.Name, Nodes: f.Nodes, Links: make([]domain.Link, 0, len(f.Links))}
	for _, e := range f.Links {
		w := 1.0
		if e.Weight != nil {
			w = *e.Weight
		}
		t.Links = append(t.Links, domain.Link{
			ID:        e.ID,
			Source:    e.Source,
			Target:    e.Target,
			Kind:      e.Kind,
			Weight:    w,
			Status:    e.Status,
			Redundant: e.Redundant,
		})
	}

	if err := Validate(t); err != nil {
		return domain.Topology{}, err
	}
	return t, nil
}

// Validate checks field constraints, then referential integrity by building
// a graph from t.
func Validate(t domain.Topology) error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTopology, formatValidationError(err))
	}
	if _, err := graph.FromTopology(t); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopology, err)
	}
	return nil
}

func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
