package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

const (
	CSVLeaderboard = "leaderboard"
	CSVActivities  = "activities"
)

var ErrUnknownCSVKind = errors.New("csv kind must be leaderboard or activities")

// ParseCSVKind normalizes a requested table name. Empty means the leaderboard.
func ParseCSVKind(kind string) (string, error) {
	switch kind {
	case "", CSVLeaderboard:
		return CSVLeaderboard, nil
	case CSVActivities:
		return CSVActivities, nil
	}
	return "", fmt.Errorf("%w: got %q", ErrUnknownCSVKind, kind)
}

// WriteReportCSV renders one table of report as CSV. kind picks the table.
func WriteReportCSV(w io.Writer, report Report, kind string) error {
	kind, err := ParseCSVKind(kind)
	if err != nil {
		return err
	}
	out := csv.NewWriter(w)
	if kind == CSVActivities {
		_ = out.Write([]string{"Activity", "Total updates", "Recent updates"})
		for _, activity := range report.Activities {
			recent := 0
			for _, count := range activity.UpdatedAtBuckets {
				recent += count
			}
			_ = out.Write([]string{activity.ActivityID, strconv.Itoa(activity.Total), strconv.Itoa(recent)})
		}
	} else {
		_ = out.Write([]string{"Student", "Completed", "Last seen"})
		for _, entry := range report.Leaderboard {
			lastSeen := ""
			if entry.LastSeenAt != nil {
				lastSeen = entry.LastSeenAt.UTC().Format(time.RFC3339)
			}
			_ = out.Write([]string{entry.DisplayName, strconv.Itoa(entry.Completed), lastSeen})
		}
	}
	out.Flush()
	return out.Error()
}
