package domain

import "time"

type UsageLog struct {
	SubmitterID     string
	JobID           string
	Layout          Layout
	PixelsProcessed int64
	OutputBytes     int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
