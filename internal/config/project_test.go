package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestInitProject_CreatesConfigAndOutRoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tracecc.config.json")
	outRoot := filepath.Join(dir, ".tracecc")

	res, err := InitProject(cfgPath, outRoot)
	if err != nil {
		t.Fatalf("InitProject: %v", err)
	}
	if !res.OK || !res.Created || !res.OutRootReady {
		t.Fatalf("unexpected result: %+v", *res)
	}
	if _, err := os.Stat(filepath.Join(outRoot, "runs")); err != nil {
		t.Fatalf("missing runs dir: %v", err)
	}

	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var cfg ProjectConfigV1
	if err := json.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	if cfg.SchemaVersion != ProjectConfigSchemaV1 || cfg.OutRoot != outRoot {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
