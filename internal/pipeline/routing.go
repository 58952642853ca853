package pipeline

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bomflow-io/bomflow/internal/config"
	"github.com/bomflow-io/bomflow/internal/event"
)

// Routing maps event types to stream names. Defaults name each stream after
// its event type; deployments sharing a Redis instance across environments
// override them via .bomflow.yaml.
type Routing struct {
	// Inputs maps consumed event types to input stream names.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	Inputs map[string]string `yaml:"input_streams"`

	// Outputs maps published event types to output stream names.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	Outputs map[string]string `yaml:"output_streams"`
}

// DefaultRoutingPath is the default location of the routing configuration
// file. Uses hidden file format following common tool conventions.
const DefaultRoutingPath = ".bomflow.yaml"

// RoutingPathEnvVar is the environment variable name for a custom routing file path.
const RoutingPathEnvVar = "BOMFLOW_ROUTING_PATH"

// DefaultRouting returns the conventional type-named streams.
func DefaultRouting() *Routing {
	return &Routing{
		Inputs: map[string]string{
			string(event.TypeClientsUpdated):  string(event.TypeClientsUpdated),
			string(event.TypeSalesUpdated):    string(event.TypeSalesUpdated),
			string(event.TypeStockUpdated):    string(event.TypeStockUpdated),
			string(event.TypeBOMUpdated):      string(event.TypeBOMUpdated),
			string(event.TypeProductsUpdated): string(event.TypeProductsUpdated),
		},
		Outputs: map[string]string{
			string(event.TypeFeaturesUpdated): string(event.TypeFeaturesUpdated),
			string(event.TypeBOMExploded):     string(event.TypeBOMExploded),
		},
	}
}

// LoadRouting loads stream routing from a YAML file at the given path.
//
// Behavior:
//   - Returns defaults (not error) if the file doesn't exist - overrides are optional
//   - Returns defaults + logs warning if the YAML is invalid (graceful degradation)
//   - Merges file entries over the defaults on success
func LoadRouting(path string, logger *slog.Logger) *Routing {
	if logger == nil {
		logger = slog.Default()
	}

	routing := DefaultRouting()

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Failed to read routing config, using defaults",
				slog.String("path", path),
				slog.Any("error", err))
		}

		return routing
	}

	var overrides Routing
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		logger.Warn("Invalid routing config, using defaults",
			slog.String("path", path),
			slog.Any("error", err))

		return routing
	}

	for eventType, streamName := range overrides.Inputs {
		if streamName != "" {
			routing.Inputs[eventType] = streamName
		}
	}

	for eventType, streamName := range overrides.Outputs {
		if streamName != "" {
			routing.Outputs[eventType] = streamName
		}
	}

	return routing
}

// RoutingPath returns the configured routing file path.
func RoutingPath() string {
	return config.GetEnvStr(RoutingPathEnvVar, DefaultRoutingPath)
}

// InputStreams returns the distinct input stream names to subscribe to.
func (r *Routing) InputStreams() []string {
	seen := make(map[string]struct{}, len(r.Inputs))
	streams := make([]string, 0, len(r.Inputs))

	for _, streamName := range r.Inputs {
		if _, duplicate := seen[streamName]; duplicate {
			continue
		}

		seen[streamName] = struct{}{}
		streams = append(streams, streamName)
	}

	return streams
}

// OutputStream returns the stream name a published event type goes to.
func (r *Routing) OutputStream(eventType event.Type) string {
	if streamName, ok := r.Outputs[string(eventType)]; ok {
		return streamName
	}

	return string(eventType)
}
