// Package doctor implements preflight diagnostics for a tracecc-wrapped
// run: write access, config parseability, host binary resolution, and AI
// endpoint reachability.
package doctor

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/markwolfe/tracecc/internal/config"
	"github.com/markwolfe/tracecc/internal/hookrun"
	"github.com/markwolfe/tracecc/internal/update"
)

type Check struct {
	ID      string `json:"id"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type Result struct {
	OK      bool    `json:"ok"`
	OutRoot string  `json:"outRoot"`
	Checks  []Check `json:"checks"`
}

type Opts struct {
	OutRootFlag    string
	HostCommand    string
	Timeout        time.Duration
	CurrentVersion string
}

func Run(opts Opts) (Result, error) {
	m, err := config.LoadMerged(opts.OutRootFlag)
	if err != nil {
		return Result{}, err
	}
	outRoot := m.OutRoot

	res := Result{OK: true, OutRoot: outRoot}
	add := func(c Check) {
		if !c.OK {
			res.OK = false
		}
		res.Checks = append(res.Checks, c)
	}

	// Write access: create and remove a temp file under outRoot.
	if err := os.MkdirAll(filepath.Join(outRoot, "runs"), 0o755); err != nil {
		add(Check{ID: "write_access", OK: false, Message: err.Error()})
	} else {
		tmp := filepath.Join(outRoot, ".doctor.tmp")
		if err := os.WriteFile(tmp, []byte("ok\n"), 0o644); err != nil {
			add(Check{ID: "write_access", OK: false, Message: err.Error()})
		} else {
			_ = os.Remove(tmp)
			add(Check{ID: "write_access", OK: true})
		}
	}

	// Project config parse (best-effort): if present, it must parse.
	if _, err := os.Stat(config.DefaultProjectConfigPath); err == nil {
		if _, err := config.LoadMerged(""); err != nil {
			add(Check{ID: "project_config", OK: false, Message: err.Error()})
		} else {
			add(Check{ID: "project_config", OK: true})
		}
	} else {
		add(Check{ID: "project_config", OK: true, Message: "missing (ok)"})
	}

	// Redaction config parse/compile (best-effort): if present, it must be valid.
	if _, err := config.LoadRedactionMerged(); err != nil {
		add(Check{ID: "redaction_config", OK: false, Message: err.Error()})
	} else {
		add(Check{ID: "redaction_config", OK: true})
	}

	// Host binary resolution: the CLI being wrapped must be on PATH.
	if strings.TrimSpace(opts.HostCommand) == "" {
		add(Check{ID: "host_binary", OK: true, Message: "no host command specified"})
	} else if _, err := exec.LookPath(opts.HostCommand); err == nil {
		add(Check{ID: "host_binary", OK: true})
	} else {
		add(Check{ID: "host_binary", OK: false, Message: err.Error()})
	}

	// AI base URL reachability: best-effort HEAD, never fails the overall
	// doctor run since offline development is a legitimate state.
	add(checkAIBaseURL(m.AIBaseURL, opts.Timeout))

	add(checkHookSettings())

	add(checkReleaseVersion(opts.CurrentVersion, opts.Timeout))

	return res, nil
}

// checkReleaseVersion reports whether this build is current against the
// latest published release, reading from the cached status only: doctor
// runs should never block on (or fail from) a release-feed fetch, so this
// check is always OK and merely informational, matching ai_base_url's
// best-effort shape.
func checkReleaseVersion(currentVersion string, timeout time.Duration) Check {
	if strings.TrimSpace(currentVersion) == "" {
		return Check{ID: "release_version", OK: true, Message: "no version stamped into this build"}
	}
	status, err := update.StatusCheck(currentVersion, time.Now(), update.StatusOptions{CacheOnly: true, Timeout: timeout})
	if err != nil {
		return Check{ID: "release_version", OK: true, Message: "no cached release status: " + err.Error()}
	}
	if status.Message == "" {
		return Check{ID: "release_version", OK: true, Message: "no cached release status"}
	}
	return Check{ID: "release_version", OK: true, Message: status.Message}
}

// checkHookSettings verifies every discoverable hook settings file parses.
// A missing file is fine (no hooks configured there); a present-but-broken
// file is a failing check since it would silently drop the operator's own
// hook commands at run time.
func checkHookSettings() Check {
	homeDir, _ := os.UserHomeDir()
	projectDir, err := os.Getwd()
	if err != nil {
		return Check{ID: "hook_settings", OK: false, Message: err.Error()}
	}

	for _, path := range hookrun.DiscoverSettingsPaths(homeDir, projectDir) {
		if _, err := hookrun.LoadSettings(path); err != nil {
			return Check{ID: "hook_settings", OK: false, Message: path + ": " + err.Error()}
		}
	}
	return Check{ID: "hook_settings", OK: true}
}

func checkAIBaseURL(baseURL string, timeout time.Duration) Check {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if strings.TrimSpace(baseURL) == "" {
		return Check{ID: "ai_base_url", OK: true, Message: "no AI base URL configured"}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, nil)
	if err != nil {
		return Check{ID: "ai_base_url", OK: true, Message: "could not build request: " + err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Check{ID: "ai_base_url", OK: true, Message: "unreachable (ok if offline): " + err.Error()}
	}
	defer resp.Body.Close()
	return Check{ID: "ai_base_url", OK: true, Message: resp.Status}
}
