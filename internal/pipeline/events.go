package pipeline

import (
	"go.uber.org/zap"
)

// Stage is a step in the life of a document within one run
type Stage string

const (
	StageScanned     Stage = "scanned" // run level, Total is set
	StageDiscovered  Stage = "discovered"
	StageUnchanged   Stage = "unchanged"
	StageSkipped     Stage = "skipped"
	StageExtracted   Stage = "extracted"
	StageChunked     Stage = "chunked"
	StageEmbedded    Stage = "embedded"
	StageSynced      Stage = "synced"
	StageCommitted   Stage = "committed"
	StageFailed      Stage = "failed"
	StageRunFinished Stage = "finished" // run level
)

// Event reports progress
type Event struct {
	DocumentID string
	Stage      Stage
	Err        error
	Chunks     int
	Total      int
}

// Observer receives events from concurrent workers
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Observers fans events out to several observers
type Observers []Observer

func (o Observers) OnEvent(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.OnEvent(e)
		}
	}
}

// LoggingObserver logs terminal document events
type LoggingObserver struct {
	log *zap.Logger
}

// NewLoggingObserver creates an observer writing to log
func NewLoggingObserver(log *zap.Logger) *LoggingObserver {
	return &LoggingObserver{log: log.With(zap.String("component", "pipeline"))}
}

func (o *LoggingObserver) OnEvent(e Event) {
	log := o.log.With(zap.String("document", e.DocumentID))

	switch e.Stage {
	case StageScanned:
		o.log.Info("scan complete", zap.Int("documents", e.Total))
	case StageCommitted:
		log.Info("document indexed", zap.Int("chunks", e.Chunks))
	case StageUnchanged:
		log.Debug("document unchanged")
	case StageSkipped:
		log.Info("document skipped", zap.Error(e.Err))
	case StageFailed:
		log.Error("document failed",
			zap.String("kind", string(Classify(e.Err))),
			zap.Error(e.Err),
		)
	case StageRunFinished:
	default:
		log.Debug("document progress", zap.String("stage", string(e.Stage)))
	}
}
