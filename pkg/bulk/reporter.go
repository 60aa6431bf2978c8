package bulk

import (
	"context"

	"github.com/rs/zerolog"
)

// Reporter receives progress. Calls are serialized by the coordinator, so
// implementations need no locking of their own.
type Reporter interface {
	Report(ctx context.Context, p Progress)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, p Progress)

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, p Progress) {
	f(ctx, p)
}

type channelReporter struct {
	ch chan<- Progress
}

// ChannelReporter forwards progress to ch. Each send blocks until received
// or until the run's context ends; the run never closes ch.
func ChannelReporter(ch chan<- Progress) Reporter {
	return channelReporter{ch: ch}
}

func (r channelReporter) Report(ctx context.Context, p Progress) {
	select {
	case r.ch <- p:
	case <-ctx.Done():
	}
}

type logReporter struct {
	logger zerolog.Logger
}

// LogReporter logs each record: failures at warn, the rest at debug.
func LogReporter(logger zerolog.Logger) Reporter {
	return logReporter{logger: logger}
}

func (r logReporter) Report(_ context.Context, p Progress) {
	ev := r.logger.Debug()
	if p.Record.Status == StatusFailed {
		ev = r.logger.Warn().Err(p.Record.Err).Str("kind", string(p.Record.Kind))
	}
	if p.Record.Reason != "" {
		ev = ev.Str("reason", p.Record.Reason)
	}
	ev.Str("ref", p.Record.Ref.String()).
		Str("status", string(p.Record.Status)).
		Int("completed", p.Completed).
		Int("total", p.Total).
		Msg("Bulk item finished")
}

type multiReporter []Reporter

// MultiReporter fans progress out to several reporters in order.
func MultiReporter(reporters ...Reporter) Reporter {
	var out multiReporter
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multiReporter) Report(ctx context.Context, p Progress) {
	for _, r := range m {
		r.Report(ctx, p)
	}
}
