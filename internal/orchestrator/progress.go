package orchestrator

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProgressEvent reports one completed stage of a sequence run, naming the
// stage and any handles it produced.
type ProgressEvent struct {
	RunID      uuid.UUID         `json:"run_id"`
	Intent     string            `json:"intent"`
	StageIndex int               `json:"stage_index"`
	StageID    string            `json:"stage_id"`
	StageCount int               `json:"stage_count"`
	Produced   map[string]string `json:"produced,omitempty"`
	At         time.Time         `json:"at"`
}

// ProgressEmitter receives stage-level progress events. Emit must not block
// the run; slow consumers drop rather than stall.
type ProgressEmitter interface {
	Emit(event ProgressEvent)
}

// LogEmitter writes progress events to the structured log. Used as the
// default emitter when no hub is wired in.
type LogEmitter struct {
	Logger *zap.Logger
}

func (e *LogEmitter) Emit(event ProgressEvent) {
	e.Logger.Info("sequence stage completed",
		zap.String("run_id", event.RunID.String()),
		zap.String("intent", event.Intent),
		zap.Int("stage_index", event.StageIndex),
		zap.String("stage_id", event.StageID),
		zap.Any("produced", event.Produced))
}
