package flume

// ModelConfig describes a selectable model and its capability flags.
type ModelConfig struct {
	ID                  string
	SupportsVision      bool
	SupportsTemperature bool
	IsAgent             bool
}

// ModelSelector resolves a requested model ID against message content.
// Implementations must be deterministic and perform no I/O: the same
// inputs always yield the same config.
type ModelSelector interface {
	Select(requested string, messages []Message) ModelConfig
}

// Catalog is a ModelSelector backed by a fixed table. An unknown requested
// ID falls back to Default. When the messages contain an image and the
// chosen model lacks vision support, Vision is substituted instead.
type Catalog struct {
	Models  map[string]ModelConfig
	Default string
	Vision  string
}

// Interface compliance check.
var _ ModelSelector = Catalog{}

// Select implements ModelSelector.
func (c Catalog) Select(requested string, messages []Message) ModelConfig {
	cfg, ok := c.Models[requested]
	if !ok {
		cfg = c.Models[c.Default]
	}
	if !cfg.SupportsVision && hasImage(messages) {
		if vision, ok := c.Models[c.Vision]; ok {
			return vision
		}
	}
	return cfg
}

func hasImage(messages []Message) bool {
	for _, msg := range messages {
		um, ok := msg.(UserMessage)
		if !ok {
			continue
		}
		for _, b := range um.Content {
			if _, ok := b.(ImageBlock); ok {
				return true
			}
		}
	}
	return false
}
