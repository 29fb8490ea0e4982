package metrics_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"socialplus-report/internal/history"
	"socialplus-report/internal/metrics"
	"socialplus-report/internal/report"
)

func sampleRun(status history.Status) history.Run {
	started := time.Date(2024, 3, 5, 3, 0, 0, 0, time.UTC)
	return history.Run{
		ID:         "run-1",
		TargetDate: report.Date{Year: 2024, Month: time.March, Day: 4},
		Status:     status,
		Emailed:    true,
		Values: []history.Value{
			{Label: "Users Created", Value: "12"},
			{Label: "Top Post", Value: "hello: 3"},
			{Label: "Posts", Value: report.ErrorMarker},
		},
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
	}
}

func TestRecorderObserve(t *testing.T) {
	rec := metrics.NewRecorder("")
	rec.Observe(sampleRun(history.StatusPartial))

	count, err := testutil.GatherAndCount(rec.Gatherer(), "socialplus_report_value")
	gt.NoError(t, err)
	gt.Equal(t, count, 1)

	count, err = testutil.GatherAndCount(rec.Gatherer(), "socialplus_report_query_failed")
	gt.NoError(t, err)
	gt.Equal(t, count, 1)

	gt.NoError(t, rec.Flush())
}

func TestRecorderFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "socialplus.prom")
	rec := metrics.NewRecorder(path)
	rec.Observe(sampleRun(history.StatusSuccess))
	gt.NoError(t, rec.Flush())

	data, err := os.ReadFile(path)
	gt.NoError(t, err)
	text := string(data)
	gt.S(t, text).Contains(`socialplus_report_value{label="Users Created"} 12`)
	gt.S(t, text).Contains("socialplus_report_success 1")
	gt.S(t, text).Contains("socialplus_report_email_sent 1")
	gt.S(t, text).Contains("socialplus_report_duration_seconds 2")
	gt.S(t, text).Contains("socialplus_report_target_date_timestamp_seconds 1.7095104e+09")
}

func TestRecorderFailedRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "socialplus.prom")
	rec := metrics.NewRecorder(path)
	run := sampleRun(history.StatusFailed)
	run.Emailed = false
	run.Values = nil
	rec.Observe(run)
	gt.NoError(t, rec.Flush())

	data, err := os.ReadFile(path)
	gt.NoError(t, err)
	gt.S(t, string(data)).Contains("socialplus_report_success 0")
	gt.S(t, string(data)).Contains("socialplus_report_email_sent 0")
}
