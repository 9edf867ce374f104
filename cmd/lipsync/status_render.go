package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"lipsync/internal/api"
)

func isTerminal(status string) bool {
	switch status {
	case "completed", "failed", "canceled":
		return true
	}
	return false
}

// currentStage returns the first stage that has not completed, or the last
// stage when all have.
func currentStage(view api.JobStatusView) (api.StageView, bool) {
	if len(view.Stages) == 0 {
		return api.StageView{}, false
	}
	for _, stage := range view.Stages {
		if stage.Status != "completed" {
			return stage, true
		}
	}
	return view.Stages[len(view.Stages)-1], true
}

func renderJob(view api.JobStatusView, painter statusPainter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job:          %s\n", view.JobID)
	fmt.Fprintf(&b, "Status:       %s\n", painter.paint(view.Status))
	fmt.Fprintf(&b, "Document:     %s\n", view.DocumentName)
	if view.ChannelName != "" {
		fmt.Fprintf(&b, "Channel:      %s\n", view.ChannelName)
	}
	if view.TitleFormat != "" {
		fmt.Fprintf(&b, "Title format: %s\n", view.TitleFormat)
	}
	if view.Cancel {
		fmt.Fprintln(&b, "Cancel:       requested")
	}
	fmt.Fprintf(&b, "Created:      %s\n", formatTimestamp(view.CreatedAt))
	fmt.Fprintf(&b, "Updated:      %s\n", formatTimestamp(view.UpdatedAt))
	if view.Result != nil {
		if view.Result.URL != "" {
			fmt.Fprintf(&b, "Published:    %s\n", view.Result.URL)
		}
		if view.Result.VideoArtifact != "" {
			fmt.Fprintf(&b, "Video:        %s\n", view.Result.VideoArtifact)
		}
		fmt.Fprintf(&b, "Receipt:      %s\n", view.Result.ArtifactID)
	}

	rows := make([][]string, 0, len(view.Stages))
	for _, stage := range view.Stages {
		errText := ""
		if stage.Error != nil {
			errText = stage.Error.Code + ": " + stage.Error.Message
		}
		rows = append(rows, []string{
			stageLabel(stage.Name),
			painter.paint(stage.Status),
			strconv.Itoa(stage.Progress) + "%",
			strconv.Itoa(stage.Attempt),
			stage.Output,
			errText,
		})
	}
	b.WriteString(renderTable(
		[]string{"Stage", "Status", "Progress", "Attempt", "Output", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	))
	b.WriteByte('\n')
	return b.String()
}

func renderJobList(list []api.JobStatusView, painter statusPainter) string {
	rows := make([][]string, 0, len(list))
	for _, view := range list {
		stage := ""
		if current, ok := currentStage(view); ok && !isTerminal(view.Status) {
			stage = fmt.Sprintf("%s %d%%", stageLabel(current.Name), current.Progress)
		}
		rows = append(rows, []string{
			view.JobID,
			painter.paint(view.Status),
			view.DocumentName,
			stage,
			formatTimestamp(view.UpdatedAt),
		})
	}
	return renderTable(
		[]string{"Job", "Status", "Document", "Stage", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}

func renderHealth(health api.HealthResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Running: %s\n", yesNo(health.Running))
	fmt.Fprintf(&b, "Ready:   %s\n", yesNo(health.Ready))

	rows := make([][]string, 0, len(health.Stages))
	for _, stage := range health.Stages {
		rows = append(rows, []string{stageLabel(stage.Name), yesNo(stage.Ready), stage.Detail})
	}
	b.WriteString(renderTable([]string{"Stage", "Ready", "Detail"}, rows, nil))
	b.WriteByte('\n')

	if len(health.Counts) > 0 {
		statuses := make([]string, 0, len(health.Counts))
		for status := range health.Counts {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)
		parts := make([]string, 0, len(statuses))
		for _, status := range statuses {
			parts = append(parts, fmt.Sprintf("%s=%d", status, health.Counts[status]))
		}
		fmt.Fprintf(&b, "Jobs:    %s\n", strings.Join(parts, " "))
	}
	return b.String()
}

func formatTimestamp(value string) string {
	if value == "" {
		return "-"
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return value
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}
