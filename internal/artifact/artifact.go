// Package artifact loads and holds the trained model and fitted schema
// pair. The pair is validated as a unit: a model served against a schema
// from a different training run silently corrupts every prediction, so a
// version mismatch is a load failure, not a warning.
package artifact

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/ventture/credit-engine/internal/engine"
)

// LoadError reports a model or schema artifact that could not be loaded
// or a pair that fails validation. At startup it is fatal: the server
// must not accept requests with a missing or mismatched pair.
type LoadError struct {
	Artifact string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s artifact: %v", e.Artifact, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Pair is one validated, immutable model+schema generation.
type Pair struct {
	Model         engine.Model
	Schema        *engine.FeatureSchema
	SchemaVersion string
}

// Load deserializes both artifacts and validates that they belong
// together: matching schema versions and matching feature counts.
func Load(modelBytes, schemaBytes []byte) (*Pair, error) {
	model, trainedAgainst, err := engine.LoadModel(modelBytes)
	if err != nil {
		return nil, &LoadError{Artifact: "model", Err: err}
	}

	schema, err := engine.LoadSchema(schemaBytes)
	if err != nil {
		return nil, &LoadError{Artifact: "schema", Err: err}
	}

	if schema.Version != trainedAgainst {
		return nil, &LoadError{
			Artifact: "pair",
			Err:      fmt.Errorf("model trained against schema %q but schema artifact is %q", trainedAgainst, schema.Version),
		}
	}
	if schema.Len() != model.NumFeatures() {
		return nil, &LoadError{
			Artifact: "pair",
			Err:      fmt.Errorf("schema declares %d features but model expects %d", schema.Len(), model.NumFeatures()),
		}
	}

	return &Pair{Model: model, Schema: schema, SchemaVersion: schema.Version}, nil
}

// LoadFiles reads both artifacts from disk and validates them as a pair.
func LoadFiles(modelPath, schemaPath string) (*Pair, error) {
	modelBytes, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, &LoadError{Artifact: "model", Err: err}
	}

	schemaBytes, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, &LoadError{Artifact: "schema", Err: err}
	}

	return Load(modelBytes, schemaBytes)
}

// Store publishes the active pair to concurrent readers. Reload swaps in
// a fully validated pair atomically; readers never observe a partially
// loaded generation.
type Store struct {
	modelPath  string
	schemaPath string
	active     atomic.Pointer[Pair]
}

// NewStore loads the initial pair from disk. Failure here must abort
// startup; a store is never constructed around a nil pair.
func NewStore(modelPath, schemaPath string) (*Store, error) {
	pair, err := LoadFiles(modelPath, schemaPath)
	if err != nil {
		return nil, err
	}

	s := &Store{modelPath: modelPath, schemaPath: schemaPath}
	s.active.Store(pair)

	slog.Info("Artifact pair loaded",
		"model_family", pair.Model.Family(),
		"schema_version", pair.SchemaVersion,
		"features", pair.Schema.Len())

	return s, nil
}

// Snapshot returns the active pair as an engine snapshot. Implements
// engine.SnapshotSource.
func (s *Store) Snapshot() engine.Snapshot {
	pair := s.active.Load()
	return engine.Snapshot{Model: pair.Model, Schema: pair.Schema}
}

// Active returns the active pair.
func (s *Store) Active() *Pair {
	return s.active.Load()
}

// Reload re-reads both artifacts from disk and swaps them in. On any
// failure the previous pair stays active untouched.
func (s *Store) Reload() error {
	pair, err := LoadFiles(s.modelPath, s.schemaPath)
	if err != nil {
		return err
	}

	old := s.active.Swap(pair)
	slog.Info("Artifact pair reloaded",
		"model_family", pair.Model.Family(),
		"schema_version", pair.SchemaVersion,
		"previous_version", old.SchemaVersion)

	return nil
}
