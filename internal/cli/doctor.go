package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/markwolfe/tracecc/internal/clierr"
	"github.com/markwolfe/tracecc/internal/doctor"
)

func newDoctorCmd(outRoot *string) *cobra.Command {
	var (
		hostCommand string
		timeout     time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run preflight diagnostics: write access, config, host binary, AI endpoint, hook settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := doctor.Run(doctor.Opts{OutRootFlag: *outRoot, HostCommand: hostCommand, Timeout: timeout, CurrentVersion: Version})
			if err != nil {
				return clierr.New(clierr.CodeIO, "doctor: "+err.Error())
			}

			if metricsAddr != "" {
				serveDoctorMetrics(res, metricsAddr)
			}

			printDoctorResult(res)
			if !res.OK {
				hostExitCode = 1
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&hostCommand, "host", "", "host binary name to resolve on PATH")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "AI endpoint reachability timeout")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve a one-shot Prometheus /metrics snapshot on this address (e.g. 127.0.0.1:9464), then exit")
	return cmd
}

// printDoctorResult renders doctor.Result as colorized pass/fail lines when
// stdout is a terminal, plain text otherwise — matching the teacher's own
// doctor command's human-first output, with --json available via piping
// (doctor.Result already marshals cleanly for scripted consumption).
func printDoctorResult(res doctor.Result) {
	colorize := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	ok, fail := "OK", "FAIL"
	if colorize {
		ok, fail = "\x1b[32mOK\x1b[0m", "\x1b[31mFAIL\x1b[0m"
	}
	for _, c := range res.Checks {
		status := ok
		if !c.OK {
			status = fail
		}
		if c.Message != "" {
			fmt.Printf("[%s] %-20s %s\n", status, c.ID, c.Message)
		} else {
			fmt.Printf("[%s] %-20s\n", status, c.ID)
		}
	}
	if res.OK {
		fmt.Printf("tracecc doctor: all checks passed (out-root: %s)\n", res.OutRoot)
	} else {
		fmt.Printf("tracecc doctor: one or more checks failed (out-root: %s)\n", res.OutRoot)
	}
}

// serveDoctorMetrics exposes a short-lived Prometheus /metrics snapshot of
// this doctor run for an operator debugging a stuck run via curl — strictly
// a local loopback diagnostic, never a push target or remote collector.
func serveDoctorMetrics(res doctor.Result, addr string) {
	reg := prometheus.NewRegistry()
	checksTotal := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracecc_doctor_check_ok",
		Help: "1 if the named doctor check passed, 0 otherwise.",
	}, []string{"check"})
	reg.MustRegister(checksTotal)
	for _, c := range res.Checks {
		v := 0.0
		if c.OK {
			v = 1.0
		}
		checksTotal.WithLabelValues(c.ID).Set(v)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	fmt.Fprintf(os.Stderr, "tracecc doctor: serving metrics on http://%s/metrics (5s)\n", addr)
	time.Sleep(5 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
