package jobqueue

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

// Job represents a unit of work in the job queue. Fields are owned by the
// queue; use JobQueue.Job to read a consistent copy.
type Job struct {
	ID          string
	Action      Action
	Data        any
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
	NextRetryAt time.Time
	Status      JobStatus
	LastError   error
	Config      RetryConfig
}

// JobInfo is a point-in-time copy of a job
type JobInfo struct {
	ID          string
	ActionType  string
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
	NextRetryAt time.Time
	Status      JobStatus
	LastError   string
}

// JobStats tracks statistics about job processing
type JobStats struct {
	TotalJobs      int
	SuccessfulJobs int
	FailedJobs     int
	StaleJobs      int
	ArchivedJobs   int
	DroppedJobs    int
	RetryAttempts  int
	ActionStats    map[string]ActionStats
}

// JobStatsSnapshot provides a point-in-time snapshot of job statistics
type JobStatsSnapshot struct {
	TotalJobs      int
	SuccessfulJobs int
	FailedJobs     int
	StaleJobs      int
	ArchivedJobs   int
	DroppedJobs    int
	RetryAttempts  int

	PendingJobs      int
	RunningJobs      int
	MaxQueueSize     int
	QueueUtilization float64 // percent

	ActionStats map[string]ActionStats
}

// ActionStats tracks statistics for one action type
type ActionStats struct {
	TypeName    string
	Description string

	Attempted  int
	Successful int
	Failed     int
	Retried    int
	Dropped    int

	TotalDuration      time.Duration
	AverageDuration    time.Duration
	MinDuration        time.Duration
	MaxDuration        time.Duration
	LastExecutionTime  time.Time
	LastSuccessfulTime time.Time
	LastFailedTime     time.Time
	LastErrorMessage   string
}

// recordExecution folds one attempt into the action statistics
func (s *ActionStats) recordExecution(d time.Duration, at time.Time, err error) {
	s.Attempted++
	s.TotalDuration += d
	s.AverageDuration = s.TotalDuration / time.Duration(s.Attempted)
	if s.MinDuration == 0 || d < s.MinDuration {
		s.MinDuration = d
	}
	if d > s.MaxDuration {
		s.MaxDuration = d
	}
	s.LastExecutionTime = at
	if err != nil {
		s.LastFailedTime = at
		s.LastErrorMessage = truncate(err.Error())
	} else {
		s.LastSuccessfulTime = at
	}
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxMessageLength {
		return s
	}
	return string([]rune(s)[:MaxMessageLength]) + "... [truncated]"
}

// ToJSON converts the snapshot to indented JSON
func (s *JobStatsSnapshot) ToJSON() (string, error) {
	return s.toJSON(true)
}

// ToJSONCompact converts the snapshot to compact JSON
func (s *JobStatsSnapshot) ToJSONCompact() (string, error) {
	return s.toJSON(false)
}

func (s *JobStatsSnapshot) toJSON(prettyPrint bool) (string, error) {
	statsMap := map[string]any{
		"queue": map[string]any{
			"total":         s.TotalJobs,
			"successful":    s.SuccessfulJobs,
			"failed":        s.FailedJobs,
			"stale":         s.StaleJobs,
			"archived":      s.ArchivedJobs,
			"dropped":       s.DroppedJobs,
			"retryAttempts": s.RetryAttempts,
			"pending":       s.PendingJobs,
			"running":       s.RunningJobs,
			"maxSize":       s.MaxQueueSize,
			"utilization":   s.QueueUtilization,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	actionsMap := make(map[string]any, len(s.ActionStats))
	for typeName := range s.ActionStats {
		stats := s.ActionStats[typeName]

		actionStats := map[string]any{
			"typeName":    stats.TypeName,
			"description": truncate(stats.Description),
			"metrics": map[string]any{
				"attempted":  stats.Attempted,
				"successful": stats.Successful,
				"failed":     stats.Failed,
				"retried":    stats.Retried,
				"dropped":    stats.Dropped,
			},
			"performance": map[string]any{
				"totalDuration":   stats.TotalDuration.String(),
				"averageDuration": stats.AverageDuration.String(),
				"minDuration":     stats.MinDuration.String(),
				"maxDuration":     stats.MaxDuration.String(),
			},
		}

		timestamps := make(map[string]string)
		if !stats.LastExecutionTime.IsZero() {
			timestamps["lastExecution"] = stats.LastExecutionTime.Format(time.RFC3339)
		}
		if !stats.LastSuccessfulTime.IsZero() {
			timestamps["lastSuccess"] = stats.LastSuccessfulTime.Format(time.RFC3339)
		}
		if !stats.LastFailedTime.IsZero() {
			timestamps["lastFailure"] = stats.LastFailedTime.Format(time.RFC3339)
		}
		if len(timestamps) > 0 {
			actionStats["timestamps"] = timestamps
		}
		if stats.LastErrorMessage != "" {
			actionStats["lastError"] = stats.LastErrorMessage
		}

		actionsMap[typeName] = actionStats
	}
	statsMap["actions"] = actionsMap

	var (
		data []byte
		err  error
	)
	if prettyPrint {
		data, err = json.MarshalIndent(statsMap, "", "  ")
	} else {
		data, err = json.Marshal(statsMap)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
