package glowly

import (
	"fmt"
	"sort"
)

// ModelDescriptor describes a catalog entry. Immutable after construction.
type ModelDescriptor struct {
	Type    ModelType `json:"type" yaml:"type"`
	Version string    `json:"version" yaml:"version"`

	// Priority orders loading; lower values load first.
	Priority int `json:"priority" yaml:"priority"`

	// Essential models gate initialization and are never auto-evicted.
	Essential bool `json:"essential" yaml:"essential"`

	InputDescription  string `json:"input" yaml:"input"`
	OutputDescription string `json:"output" yaml:"output"`

	// EstimatedMemory is the expected resident size in bytes once loaded.
	EstimatedMemory int64 `json:"estimated_memory" yaml:"estimated_memory"`
}

const mb = 1 << 20

// Catalog is a static, read-only set of model descriptors.
type Catalog struct {
	byType map[ModelType]ModelDescriptor
	sorted []ModelDescriptor
}

// NewCatalog builds a catalog from descriptors.
// Returns an error for empty or duplicate model types.
func NewCatalog(descs ...ModelDescriptor) (*Catalog, error) {
	c := &Catalog{byType: make(map[ModelType]ModelDescriptor, len(descs))}
	for _, d := range descs {
		if d.Type == "" {
			return nil, fmt.Errorf("glowly: catalog entry with empty model type")
		}
		if _, dup := c.byType[d.Type]; dup {
			return nil, fmt.Errorf("glowly: duplicate catalog entry %s", d.Type)
		}
		c.byType[d.Type] = d
		c.sorted = append(c.sorted, d)
	}
	sort.SliceStable(c.sorted, func(i, j int) bool {
		return c.sorted[i].Priority < c.sorted[j].Priority
	})
	return c, nil
}

// DefaultCatalog returns the built-in catalog of all ten model types.
// Face detection, skin-tone classification and the primary enhancement
// model are essential.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		ModelDescriptor{
			Type: ModelFaceDetection, Version: "1.2.0", Priority: 1, Essential: true,
			InputDescription:  "RGB image, face region",
			OutputDescription: "detection confidence calibration",
			EstimatedMemory:   4 * mb,
		},
		ModelDescriptor{
			Type: ModelSkinToneClassifier, Version: "1.0.3", Priority: 2, Essential: true,
			InputDescription:  "averaged skin region colors",
			OutputDescription: "skin-tone category, undertone, confidence",
			EstimatedMemory:   2 * mb,
		},
		ModelDescriptor{
			Type: ModelBeautyEnhancement, Version: "2.1.0", Priority: 3, Essential: true,
			InputDescription:  "face quality features",
			OutputDescription: "per-enhancement recommended intensity",
			EstimatedMemory:   12 * mb,
		},
		ModelDescriptor{
			Type: ModelLandmarkRefinement, Version: "0.9.0", Priority: 4,
			InputDescription:  "coarse landmark points, face region",
			OutputDescription: "refined landmark points",
			EstimatedMemory:   6 * mb,
		},
		ModelDescriptor{
			Type: ModelBeautyScore, Version: "1.1.0", Priority: 5,
			InputDescription:  "face quality and skin features",
			OutputDescription: "attractiveness score 0-1",
			EstimatedMemory:   8 * mb,
		},
		ModelDescriptor{
			Type: ModelSkinQuality, Version: "0.5.0", Priority: 6,
			InputDescription:  "face region",
			OutputDescription: "texture, blemish and evenness scores",
			EstimatedMemory:   10 * mb,
		},
		ModelDescriptor{
			Type: ModelBackgroundSegmentation, Version: "0.4.0", Priority: 7,
			InputDescription:  "RGB image",
			OutputDescription: "person mask",
			EstimatedMemory:   20 * mb,
		},
		ModelDescriptor{
			Type: ModelAgeEstimation, Version: "0.3.0", Priority: 8,
			InputDescription:  "face region",
			OutputDescription: "estimated age in years",
			EstimatedMemory:   6 * mb,
		},
		ModelDescriptor{
			Type: ModelGenderClassification, Version: "0.3.0", Priority: 9,
			InputDescription:  "face region",
			OutputDescription: "class label and probability",
			EstimatedMemory:   5 * mb,
		},
		ModelDescriptor{
			Type: ModelMakeupApplication, Version: "0.1.0", Priority: 10,
			InputDescription:  "face region, landmarks, style",
			OutputDescription: "makeup overlay",
			EstimatedMemory:   24 * mb,
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the descriptor for t.
func (c *Catalog) Lookup(t ModelType) (ModelDescriptor, bool) {
	d, ok := c.byType[t]
	return d, ok
}

// Descriptors returns a copy of all descriptors in ascending priority order.
func (c *Catalog) Descriptors() []ModelDescriptor {
	out := make([]ModelDescriptor, len(c.sorted))
	copy(out, c.sorted)
	return out
}

// Essential returns the essential descriptors in ascending priority order.
func (c *Catalog) Essential() []ModelDescriptor {
	var out []ModelDescriptor
	for _, d := range c.sorted {
		if d.Essential {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int { return len(c.sorted) }

// Without returns a new catalog lacking the given types.
func (c *Catalog) Without(types ...ModelType) *Catalog {
	drop := make(map[ModelType]bool, len(types))
	for _, t := range types {
		drop[t] = true
	}
	var keep []ModelDescriptor
	for _, d := range c.sorted {
		if !drop[d.Type] {
			keep = append(keep, d)
		}
	}
	out, _ := NewCatalog(keep...)
	return out
}
