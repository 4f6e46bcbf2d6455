// Package report renders a RunSummary as a human-readable or JSON report.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/orchestra-mcp/socketprobe/src/types"
)

// Format selects the report rendering.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Exit codes returned in Report.ExitCode.
const (
	ExitOK      = 0
	ExitFailure = 1
)

// Report is a rendered summary and its verdict.
type Report struct {
	Text     string
	OK       bool
	ExitCode int
}

// Reporter renders summaries. It never mutates the summary it is given.
type Reporter struct {
	format Format
}

// New creates a reporter. Unknown formats fall back to text.
func New(format Format) *Reporter {
	if format != FormatJSON {
		format = FormatText
	}
	return &Reporter{format: format}
}

// Render produces the report for summary.
func (r *Reporter) Render(summary types.RunSummary) Report {
	ok := summary.OK()
	rep := Report{OK: ok, ExitCode: ExitFailure}
	if ok {
		rep.ExitCode = ExitOK
	}
	if r.format == FormatJSON {
		rep.Text = renderJSON(summary, ok)
	} else {
		rep.Text = renderText(summary, ok)
	}
	return rep
}

// Write renders summary and writes it to w.
func (r *Reporter) Write(w io.Writer, summary types.RunSummary) (Report, error) {
	rep := r.Render(summary)
	if _, err := io.WriteString(w, rep.Text); err != nil {
		return rep, fmt.Errorf("write report: %w", err)
	}
	return rep, nil
}

type jsonReport struct {
	types.RunSummary
	OK bool `json:"ok"`
}

func renderJSON(summary types.RunSummary, ok bool) string {
	if summary.Results == nil {
		summary.Results = []types.ScenarioResult{}
	}
	data, err := json.MarshalIndent(jsonReport{RunSummary: summary, OK: ok}, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"ok\": false, \"error\": %q}\n", err.Error())
	}
	return string(data) + "\n"
}

func renderText(summary types.RunSummary, ok bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "socketprobe run %s\n\n", summary.RunID)

	for i, res := range summary.Results {
		writeResult(&b, i+1, res)
	}

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tEXPECTED\tSTATE\tRESULT")
	for _, res := range summary.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", res.Scenario, res.Expected, res.State, verdict(res.Success))
	}
	_ = tw.Flush()

	overall := "FAIL"
	if ok {
		overall = "PASS"
	}
	fmt.Fprintf(&b, "\n%s: %d passed, %d failed\n", overall, summary.Passed, summary.Failed)
	return b.String()
}

func writeResult(b *strings.Builder, n int, res types.ScenarioResult) {
	fmt.Fprintf(b, "[%d] %s: %s\n", n, res.Scenario, verdict(res.Success))
	fmt.Fprintf(b, "    expected: %s\n", res.Expected)
	fmt.Fprintf(b, "    state:    %s\n", res.State)
	if res.Transport != "" {
		fmt.Fprintf(b, "    transport: %s\n", res.Transport)
	}
	fmt.Fprintf(b, "    elapsed:  %s\n", res.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(b, "    events:   %d\n", len(res.Events))
	if res.Err != nil {
		fmt.Fprintf(b, "    error:    %s: %s\n", res.Err.Kind, res.Err.Message)
		if res.Err.Reason != types.ReasonNone {
			fmt.Fprintf(b, "    reason:   %s\n", res.Err.Reason)
		}
	}
	for _, d := range res.Diagnostics {
		if d.Level == types.LevelInfo {
			continue
		}
		fmt.Fprintf(b, "    %s: %s\n", d.Level, d.Message)
	}
	if !res.Success {
		if h := Hint(res); h != "" {
			fmt.Fprintf(b, "    hint:     %s\n", h)
		}
	}
	b.WriteString("\n")
}

func verdict(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

// Hint suggests a next step for a failed result. It returns "" when there
// is nothing useful to say.
func Hint(res types.ScenarioResult) string {
	switch {
	case res.Expected == types.OutcomeAccepted && res.Err.PolicyRelated():
		return "origin is not on the server's allowlist; add it to the CORS configuration"
	case res.Expected == types.OutcomeRejected && res.State == types.StateCompleted:
		return "server accepted an origin that should be refused; check the allowlist is enforced on the socket path"
	case res.Err != nil && res.Err.Kind == types.KindNetwork:
		return "server unreachable; check the base URL and that the service is running"
	case res.State == types.StateTimedOut:
		return "timed out waiting for the confirmation event; check the server handles the probe event"
	case res.Err != nil && res.Err.Kind == types.KindProtocol:
		return "server spoke an unexpected protocol; check the socket path and protocol version"
	}
	return ""
}
