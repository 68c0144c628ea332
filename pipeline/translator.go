package pipeline

import (
	"context"
	"log/slog"
	"time"

	"streamscribe/task"
)

// consumerPollTimeout bounds how long the translation stage waits for input
// before re-checking the cancellation flag.
const consumerPollTimeout = 500 * time.Millisecond

// runTranslator drains the intermediate queue, translates each record, and
// pushes results to the client queue in input order. An error record from
// upstream is forwarded unchanged and stops the stage; per-record
// translation failures do not (the translator converts those locally).
// The end marker is always forwarded as the stage's final act.
func (o *Orchestrator) runTranslator(
	ctx context.Context,
	in, out *task.Queue,
	cancel *task.CancelFlag,
	log *slog.Logger,
) {
	defer func() {
		out.Put(task.EndMessage(), cancel)
		log.Debug("Translation stage finished")
	}()

	for {
		if cancel.IsSet() {
			log.Info("Translation stage observed cancellation")
			return
		}

		msg, ok := in.Get(consumerPollTimeout)
		if !ok {
			continue
		}

		switch msg.Kind {
		case task.KindEnd:
			return
		case task.KindStatus:
			out.Put(msg, cancel)
			return
		}

		rec := o.translator.Translate(ctx, msg.Record)
		if cancel.IsSet() {
			log.Info("Translation stage observed cancellation")
			return
		}
		if !out.Put(task.RecordMessage(rec), cancel) {
			return
		}
	}
}
