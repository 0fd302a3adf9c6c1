package timing

import (
	"fmt"
	"time"

	"github.com/pubgraph/backend/pkg/ai"
	"github.com/pubgraph/backend/pkg/logger"
)

// FormatDuration renders d as hh:mm:ss.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// LogEncoderMetrics writes the accumulated encoder usage.
func LogEncoderMetrics(metrics ai.ModelMetrics) {
	logger.Info(
		"Encoder metrics",
		"input_tokens", metrics.InputTokens,
		"total_tokens", metrics.TotalTokens,
		"requests", metrics.Requests,
		"duration", FormatDuration(time.Duration(metrics.DurationMs)*time.Millisecond),
	)
}

// LogProcessingTime writes the wall clock time since start.
func LogProcessingTime(start time.Time) {
	logger.Info("Processing time", "duration", FormatDuration(time.Since(start)))
}
