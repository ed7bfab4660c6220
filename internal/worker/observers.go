package worker

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"nathanbeddoewebdev/vpsd/internal/eventlog"
	"nathanbeddoewebdev/vpsd/internal/monitor"
)

// EventJobError is the event log type recorded for an attempt that
// failed unexpectedly and will be redelivered.
const EventJobError = "job_error"

func jobFields(job monitor.Job) []zap.Field {
	return []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Int64("record_id", job.RecordID),
		zap.String("resource_id", job.ResourceID),
		zap.String("task_id", job.ExternalTaskID),
		zap.Int("attempt", job.Attempt),
	}
}

// LogResult logs every attempt at a level matching its outcome.
func LogResult(log *zap.Logger) monitor.Observer {
	return func(_ context.Context, res monitor.Result, err error) {
		fields := jobFields(res.Job)
		if err != nil {
			log.Warn("attempt failed, job will be redelivered", append(fields, zap.Error(err))...)
			return
		}

		fields = append(fields, zap.String("outcome", string(res.Outcome)))
		if res.Next != nil {
			fields = append(fields, zap.Duration("next_in", res.Delay))
		}
		for _, ev := range res.Events {
			if ev.Type == monitor.EventTransient {
				fields = append(fields, zap.String("transient_error", ev.Message))
			}
		}

		level := zapcore.InfoLevel
		switch res.Outcome {
		case monitor.OutcomeRescheduled, monitor.OutcomeDuplicate:
			level = zapcore.DebugLevel
		case monitor.OutcomeFailed, monitor.OutcomeExhausted:
			level = zapcore.WarnLevel
		}
		if ce := log.Check(level, "attempt finished"); ce != nil {
			ce.Write(fields...)
		}
	}
}

// RecordEvents persists the events of every attempt. Write failures are
// logged and otherwise ignored.
func RecordEvents(repo eventlog.Repository, log *zap.Logger) monitor.Observer {
	return func(ctx context.Context, res monitor.Result, err error) {
		job := res.Job
		entry := func(typ, msg string, pct *float64) *eventlog.Entry {
			return &eventlog.Entry{
				JobID:      job.ID,
				Kind:       job.Kind,
				RecordID:   job.RecordID,
				ResourceID: job.ResourceID,
				TaskID:     job.ExternalTaskID,
				Attempt:    job.Attempt,
				Type:       typ,
				Message:    msg,
				Percent:    pct,
			}
		}

		var entries []*eventlog.Entry
		if err != nil {
			entries = append(entries, entry(EventJobError, err.Error(), nil))
		}
		for _, ev := range res.Events {
			e := entry(string(ev.Type), ev.Message, ev.Percent)
			e.Timestamp = ev.At
			entries = append(entries, e)
		}

		for _, e := range entries {
			if serr := repo.Save(ctx, e); serr != nil {
				log.Error("could not record event", append(jobFields(job), zap.String("type", e.Type), zap.Error(serr))...)
			}
		}
	}
}
