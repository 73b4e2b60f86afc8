package models

import (
	"math"
	"time"
)

type TaskStats struct {
	TotalTasks        int `json:"total_tasks"`
	PendingTasks      int `json:"pending_tasks"`
	InProgressTasks   int `json:"in_progress_tasks"`
	CompletedTasks    int `json:"completed_tasks"`
	OverdueTasks      int `json:"overdue_tasks"`
	TotalUsers        int `json:"total_users"`
	PendingPercent    int `json:"pending_percent"`
	InProgressPercent int `json:"in_progress_percent"`
	CompletionRate    int `json:"completion_rate"`
}

func ComputeTaskStats(tasks []Task, totalUsers int, now time.Time) TaskStats {
	stats := TaskStats{TotalTasks: len(tasks), TotalUsers: totalUsers}
	for i := range tasks {
		switch tasks[i].Status {
		case StatusPending:
			stats.PendingTasks++
		case StatusInProgress:
			stats.InProgressTasks++
		case StatusCompleted:
			stats.CompletedTasks++
		}
		if tasks[i].IsOverdue(now) {
			stats.OverdueTasks++
		}
	}

	stats.PendingPercent = percent(stats.PendingTasks, stats.TotalTasks)
	stats.InProgressPercent = percent(stats.InProgressTasks, stats.TotalTasks)
	stats.CompletionRate = percent(stats.CompletedTasks, stats.TotalTasks)
	return stats
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}
