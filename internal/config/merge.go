package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Merged struct {
	OutRoot string

	// Source is informational for operator UX/debugging.
	Source string

	InterceptStrategyChain  []string
	InterceptStrategySource string

	AIBaseURL                string
	ModelPricingOverridePath string
	RedactionDisabled        bool
}

func DefaultGlobalConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tracecc", "config.json"), nil
}

type GlobalConfigV1 struct {
	SchemaVersion            int                `json:"schemaVersion"`
	OutRoot                  string             `json:"outRoot,omitempty"`
	Redaction                *RedactionConfigV1 `json:"redaction,omitempty"`
	Runtime                  RuntimeConfigV1    `json:"runtime,omitempty"`
	AIBaseURL                string             `json:"aiBaseUrl,omitempty"`
	ModelPricingOverridePath string             `json:"modelPricingOverridePath,omitempty"`
	RedactionDisabled        bool               `json:"redactionDisabled,omitempty"`
}

func LoadMerged(flagOutRoot string) (Merged, error) {
	// Precedence:
	// 1) CLI flags
	// 2) env vars
	// 3) project config (tracecc.config.json)
	// 4) global config (~/.tracecc/config.json)
	// 5) defaults
	projectCfg, hasProjectCfg, err := loadProject(DefaultProjectConfigPath)
	if err != nil {
		return Merged{}, err
	}
	globalPath, err := DefaultGlobalConfigPath()
	if err != nil {
		return Merged{}, err
	}
	globalCfg, hasGlobalCfg, err := loadGlobal(globalPath)
	if err != nil {
		return Merged{}, err
	}

	res := Merged{
		OutRoot:                 ".tracecc",
		Source:                  "default",
		InterceptStrategyChain:  DefaultInterceptStrategyChain(),
		InterceptStrategySource: "default",
	}
	if strings.TrimSpace(flagOutRoot) != "" {
		res.OutRoot = flagOutRoot
		res.Source = "flag"
	} else if v := strings.TrimSpace(os.Getenv("TRACECC_OUT_ROOT")); v != "" {
		res.OutRoot = v
		res.Source = "env:TRACECC_OUT_ROOT"
	} else if hasProjectCfg {
		res.OutRoot = projectCfg.OutRoot
		res.Source = DefaultProjectConfigPath
	} else if hasGlobalCfg && strings.TrimSpace(globalCfg.OutRoot) != "" {
		res.OutRoot = globalCfg.OutRoot
		res.Source = globalPath
	}

	if v := ParseInterceptStrategyCSV(os.Getenv("TRACECC_INTERCEPT_STRATEGIES")); len(v) > 0 {
		res.InterceptStrategyChain = v
		res.InterceptStrategySource = "env:TRACECC_INTERCEPT_STRATEGIES"
	} else if hasProjectCfg {
		if chain := NormalizeInterceptStrategyChain(projectCfg.Runtime.StrategyChain); len(chain) > 0 {
			res.InterceptStrategyChain = chain
			res.InterceptStrategySource = DefaultProjectConfigPath
		}
	} else if hasGlobalCfg {
		if chain := NormalizeInterceptStrategyChain(globalCfg.Runtime.StrategyChain); len(chain) > 0 {
			res.InterceptStrategyChain = chain
			res.InterceptStrategySource = globalPath
		}
	}

	res.AIBaseURL = "https://api.anthropic.com"
	if hasGlobalCfg && strings.TrimSpace(globalCfg.AIBaseURL) != "" {
		res.AIBaseURL = globalCfg.AIBaseURL
	}
	if hasProjectCfg && strings.TrimSpace(projectCfg.AIBaseURL) != "" {
		res.AIBaseURL = projectCfg.AIBaseURL
	}
	if v := strings.TrimSpace(os.Getenv("TRACECC_AI_BASE_URL")); v != "" {
		res.AIBaseURL = v
	}

	if hasGlobalCfg {
		res.ModelPricingOverridePath = globalCfg.ModelPricingOverridePath
		res.RedactionDisabled = globalCfg.RedactionDisabled
	}
	if hasProjectCfg {
		if strings.TrimSpace(projectCfg.ModelPricingOverridePath) != "" {
			res.ModelPricingOverridePath = projectCfg.ModelPricingOverridePath
		}
		if projectCfg.RedactionDisabled {
			res.RedactionDisabled = true
		}
	}
	if v := strings.TrimSpace(os.Getenv("TRACECC_MODEL_PRICING_OVERRIDE")); v != "" {
		res.ModelPricingOverridePath = v
	}
	if strings.TrimSpace(os.Getenv("TRACECC_DISABLE_REDACTION")) == "1" {
		res.RedactionDisabled = true
	}

	return res, nil
}

func loadProject(path string) (ProjectConfigV1, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ProjectConfigV1{}, false, nil
		}
		return ProjectConfigV1{}, false, err
	}
	var cfg ProjectConfigV1
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return ProjectConfigV1{}, false, err
	}
	if cfg.SchemaVersion != ProjectConfigSchemaV1 {
		return ProjectConfigV1{}, false, fmt.Errorf("project config unsupported schemaVersion=%d", cfg.SchemaVersion)
	}
	if strings.TrimSpace(cfg.OutRoot) == "" {
		return ProjectConfigV1{}, false, fmt.Errorf("project config outRoot is empty")
	}
	return cfg, true, nil
}

func loadGlobal(path string) (GlobalConfigV1, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return GlobalConfigV1{}, false, nil
		}
		return GlobalConfigV1{}, false, err
	}
	var cfg GlobalConfigV1
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return GlobalConfigV1{}, false, err
	}
	if cfg.SchemaVersion != 1 {
		return GlobalConfigV1{}, false, fmt.Errorf("global config unsupported schemaVersion=%d", cfg.SchemaVersion)
	}
	return cfg, true, nil
}
