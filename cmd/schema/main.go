// schema emits JSON schema documents for the server's JSON surfaces: the
// /admin/tuning payload and the /diagnostics snapshot. Operators point
// editor validation and monitoring contracts at the generated files.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"farfield/server"
)

func main() {
	var outDir string
	flag.StringVar(&outDir, "out", "", "directory to write schema files")
	flag.Parse()

	if outDir == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}

	tuning := reflector.Reflect(new(server.Tuning))
	tuning.Title = "Farfield Tuning"
	tuning.Description = "Partial update accepted by POST /admin/tuning; absent fields keep their values"

	diagnostics := reflector.Reflect(new(server.DiagnosticsSnapshot))
	diagnostics.Title = "Farfield Diagnostics"
	diagnostics.Description = "Document served by GET /diagnostics"

	for name, schema := range map[string]*jsonschema.Schema{
		"tuning.schema.json":      tuning,
		"diagnostics.schema.json": diagnostics,
	} {
		if err := writeSchema(filepath.Join(outDir, name), schema); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", name, err)
			os.Exit(1)
		}
	}
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}

	return nil
}
