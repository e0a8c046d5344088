package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotsales/lotsales/internal/installments"
)

// ScheduleOptions defines available flags for the schedule preview command.
type ScheduleOptions struct {
	Total      string
	Quotas     int
	Start      string
	Custom     []string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// PreviewCommand prints the quota schedule for the given terms. It returns 0
// on success, 1 on invalid input and 10 when the schedule carries warnings.
func PreviewCommand(opts ScheduleOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	total, err := decimal.NewFromString(strings.TrimSpace(opts.Total))
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "schedule preview: invalid total %q\n", opts.Total)
		return 1
	}
	start, err := time.Parse("2006-01-02", strings.TrimSpace(opts.Start))
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "schedule preview: invalid start %q (expected YYYY-MM-DD)\n", opts.Start)
		return 1
	}
	quotas := opts.Quotas
	var custom []decimal.Decimal
	if len(opts.Custom) > 0 {
		for _, raw := range opts.Custom {
			amount, err := decimal.NewFromString(strings.TrimSpace(raw))
			if err != nil {
				_, _ = fmt.Fprintf(opts.Stderr, "schedule preview: invalid custom amount %q\n", raw)
				return 1
			}
			custom = append(custom, amount)
		}
		if quotas == 0 {
			quotas = len(custom)
		}
	}

	schedule, err := installments.GenerateSchedule(total, quotas, start, custom)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "schedule preview: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(schedule); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "schedule preview: encode json: %v\n", err)
			return 1
		}
	} else {
		renderSchedule(opts.Stdout, schedule)
	}
	for _, w := range schedule.Warnings {
		_, _ = fmt.Fprintf(opts.Stderr, "warning: %s\n", w.Message)
	}
	if len(schedule.Warnings) > 0 {
		return 10
	}
	return 0
}

func renderSchedule(w io.Writer, schedule installments.Schedule) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintln(tw, "QUOTA\tDUE\tAMOUNT\t")
	for _, it := range schedule.Installments {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t\n", it.QuotaNumber, it.DueDate.Format("2006-01-02"), it.QuotaValue.StringFixed(installments.CurrencyPlaces))
	}
	_, _ = fmt.Fprintf(tw, "TOTAL\t\t%s\t\n", schedule.Total.StringFixed(installments.CurrencyPlaces))
	_ = tw.Flush()
}
