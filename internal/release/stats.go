package release

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Statistics aggregates release history. Aggregation happens in Go over the
// filtered rows so both backends share one query shape.
func (s *Store) Statistics(ctx context.Context, projectID string, req StatisticsRequest) (*Statistics, error) {
	groupBy := strings.ToLower(req.GroupBy)
	switch groupBy {
	case "":
		groupBy = "day"
	case "day", "week", "month":
	default:
		return nil, fmt.Errorf("invalid group_by %q", req.GroupBy)
	}

	where := []string{"1 = 1"}
	var args []any
	if projectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, projectID)
	}
	if req.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*req.From))
	}
	if req.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(*req.To))
	}
	clause := strings.Join(where, " AND ")

	type releaseRow struct {
		status    Status
		created   time.Time
		started   *time.Time
		completed *time.Time
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT id, status, created_at, started_at, completed_at FROM releases WHERE `+clause+`;`), args...)
	if err != nil {
		return nil, fmt.Errorf("statistics releases: %w", err)
	}
	var releases []releaseRow
	for rows.Next() {
		var (
			id, status, created string
			started, completed  sql.NullString
		)
		if err := rows.Scan(&id, &status, &created, &started, &completed); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan release: %w", err)
		}
		releases = append(releases, releaseRow{
			status:    Status(status),
			created:   parseTime(created),
			started:   parseNullTime(started),
			completed: parseNullTime(completed),
		})
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate releases: %w", err)
	}

	stats := &Statistics{}
	var durationSum time.Duration
	var durationCount int
	byDate := map[string]*DateCount{}
	for _, r := range releases {
		stats.TotalReleases++
		bucket := dateBucket(r.created, groupBy)
		dc, ok := byDate[bucket]
		if !ok {
			dc = &DateCount{Date: bucket}
			byDate[bucket] = dc
		}
		dc.Count++
		switch r.status {
		case StatusSucceeded:
			stats.SuccessfulReleases++
			dc.SuccessCount++
		case StatusFailed:
			stats.FailedReleases++
			dc.FailureCount++
		}
		if r.started != nil && r.completed != nil {
			durationSum += r.completed.Sub(*r.started)
			durationCount++
		}
	}
	if durationCount > 0 {
		stats.AverageDuration = int64((durationSum / time.Duration(durationCount)).Seconds())
	}
	for _, dc := range byDate {
		stats.ReleasesByDate = append(stats.ReleasesByDate, *dc)
	}
	sort.Slice(stats.ReleasesByDate, func(i, j int) bool {
		return stats.ReleasesByDate[i].Date < stats.ReleasesByDate[j].Date
	})

	blockRows, err := s.db.QueryContext(ctx, s.q(`
SELECT be.block_type, be.status, be.started_at, be.completed_at
FROM block_executions be
JOIN releases ON releases.id = be.release_id
WHERE `+clause+`;`), args...)
	if err != nil {
		return nil, fmt.Errorf("statistics blocks: %w", err)
	}
	type blockAgg struct {
		total, succeeded int
		durationSum      time.Duration
		durationCount    int
	}
	aggs := map[string]*blockAgg{}
	for blockRows.Next() {
		var (
			blockType, status  string
			started, completed sql.NullString
		)
		if err := blockRows.Scan(&blockType, &status, &started, &completed); err != nil {
			_ = blockRows.Close()
			return nil, fmt.Errorf("scan block: %w", err)
		}
		agg, ok := aggs[blockType]
		if !ok {
			agg = &blockAgg{}
			aggs[blockType] = agg
		}
		// Blocks that never ran are not counted as usage.
		st := parseNullTime(started)
		if st == nil {
			continue
		}
		agg.total++
		if BlockStatus(status) == BlockSucceeded {
			agg.succeeded++
		}
		if done := parseNullTime(completed); done != nil {
			agg.durationSum += done.Sub(*st)
			agg.durationCount++
		}
	}
	err = blockRows.Err()
	_ = blockRows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}

	for blockType, agg := range aggs {
		if agg.total == 0 {
			continue
		}
		stats.BlockSuccessRates = append(stats.BlockSuccessRates, BlockSuccessRate{
			BlockType:            blockType,
			TotalExecutions:      agg.total,
			SuccessfulExecutions: agg.succeeded,
			SuccessRate:          float64(agg.succeeded) / float64(agg.total),
		})
		usage := BlockUsage{BlockType: blockType, UsageCount: agg.total}
		if agg.durationCount > 0 {
			usage.AverageDuration = int64((agg.durationSum / time.Duration(agg.durationCount)).Seconds())
		}
		stats.MostUsedBlocks = append(stats.MostUsedBlocks, usage)
	}
	sort.Slice(stats.BlockSuccessRates, func(i, j int) bool {
		return stats.BlockSuccessRates[i].BlockType < stats.BlockSuccessRates[j].BlockType
	})
	sort.Slice(stats.MostUsedBlocks, func(i, j int) bool {
		a, b := stats.MostUsedBlocks[i], stats.MostUsedBlocks[j]
		if a.UsageCount != b.UsageCount {
			return a.UsageCount > b.UsageCount
		}
		return a.BlockType < b.BlockType
	})
	return stats, nil
}

func dateBucket(t time.Time, groupBy string) string {
	t = t.UTC()
	switch groupBy {
	case "month":
		return t.Format("2006-01")
	case "week":
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	default:
		return t.Format("2006-01-02")
	}
}
