package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMerged_PrecedenceFlagEnvProjectGlobalDefault(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(wd)
	})
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	// Default
	m, err := LoadMerged("")
	if err != nil {
		t.Fatalf("LoadMerged: %v", err)
	}
	if m.OutRoot != ".tracecc" || m.Source != "default" {
		t.Fatalf("unexpected default: %+v", m)
	}

	// Global
	home := filepath.Join(dir, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Setenv("HOME", home)
	globalPath, err := DefaultGlobalConfigPath()
	if err != nil {
		t.Fatalf("DefaultGlobalConfigPath: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(globalPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(globalPath, []byte(`{"schemaVersion":1,"outRoot":".tracecc-global"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err = LoadMerged("")
	if err != nil {
		t.Fatalf("LoadMerged: %v", err)
	}
	if m.OutRoot != ".tracecc-global" {
		t.Fatalf("unexpected global: %+v", m)
	}

	// Project overrides global
	if err := os.WriteFile(DefaultProjectConfigPath, []byte(`{"schemaVersion":1,"outRoot":".tracecc-project"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err = LoadMerged("")
	if err != nil {
		t.Fatalf("LoadMerged: %v", err)
	}
	if m.OutRoot != ".tracecc-project" {
		t.Fatalf("unexpected project: %+v", m)
	}

	// Env overrides project
	t.Setenv("TRACECC_OUT_ROOT", ".tracecc-env")
	m, err = LoadMerged("")
	if err != nil {
		t.Fatalf("LoadMerged: %v", err)
	}
	if m.OutRoot != ".tracecc-env" {
		t.Fatalf("unexpected env: %+v", m)
	}

	// Flag overrides env
	m, err = LoadMerged(".tracecc-flag")
	if err != nil {
		t.Fatalf("LoadMerged: %v", err)
	}
	if m.OutRoot != ".tracecc-flag" {
		t.Fatalf("unexpected flag: %+v", m)
	}
}

func TestLoadMerged_InterceptStrategyChainPrecedence(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(wd)
	})
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	home := filepath.Join(dir, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Setenv("HOME", home)
	globalPath, err := DefaultGlobalConfigPath()
	if err != nil {
		t.Fatalf("DefaultGlobalConfigPath: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(globalPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(globalPath, []byte(`{"schemaVersion":1,"runtime":{"strategyChain":["proxy","transport_patch"]}}`), 0o644); err != nil {
		t.Fatalf("write global: %v", err)
	}

	m, err := LoadMerged("")
	if err != nil {
		t.Fatalf("LoadMerged global: %v", err)
	}
	if len(m.InterceptStrategyChain) != 2 || m.InterceptStrategyChain[0] != "proxy" || m.InterceptStrategyChain[1] != "transport_patch" {
		t.Fatalf("unexpected global intercept chain: %#v", m.InterceptStrategyChain)
	}

	if err := os.WriteFile(DefaultProjectConfigPath, []byte(`{"schemaVersion":1,"outRoot":".tracecc","runtime":{"strategyChain":["proxy"]}}`), 0o644); err != nil {
		t.Fatalf("write project: %v", err)
	}
	m, err = LoadMerged("")
	if err != nil {
		t.Fatalf("LoadMerged project: %v", err)
	}
	if len(m.InterceptStrategyChain) != 1 || m.InterceptStrategyChain[0] != "proxy" {
		t.Fatalf("unexpected project intercept chain: %#v", m.InterceptStrategyChain)
	}

	t.Setenv("TRACECC_INTERCEPT_STRATEGIES", "env_a, env_b , env_a")
	m, err = LoadMerged("")
	if err != nil {
		t.Fatalf("LoadMerged env: %v", err)
	}
	if len(m.InterceptStrategyChain) != 2 || m.InterceptStrategyChain[0] != "env_a" || m.InterceptStrategyChain[1] != "env_b" {
		t.Fatalf("unexpected env intercept chain: %#v", m.InterceptStrategyChain)
	}
}
