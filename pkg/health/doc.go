/*
Package health runs periodic checks of the host dependencies an agent needs
to serve requests.

# Checkers

Two checkers implement the Checker interface:

	ExecChecker   runs a command through a shell.Runner, healthy on exit 0
	FuncChecker   wraps a probe function, healthy when it returns nil

The agent uses ExecChecker for the external tools (btrfs, qemu-img and
tgt-admin) and FuncChecker for the operation journal.

# Monitor

A Monitor groups checkers by component and runs them every Interval. Each
checker gets its own Timeout. A component is healthy when all of its
checkers pass; after Retries consecutive failures it is reported unhealthy.
Results are delivered through a ReportFunc so the package stays free of any
HTTP or metrics dependency:

	mon := health.NewMonitor(health.DefaultConfig(), metrics.UpdateComponent)
	mon.Add("tools",
		health.NewExecChecker(runner, "btrfs", "--version"),
		health.NewExecChecker(runner, "qemu-img", "--version"),
	)
	go mon.Run(ctx)
*/
package health
