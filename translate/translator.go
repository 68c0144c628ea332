package translate

import (
	"context"

	"streamscribe/task"
)

// ErrorMarker replaces a record's text when its translation fails. The
// record still flows to the client; translation failures are local.
const ErrorMarker = "[Translation Error]"

// Translator rewrites one record's text into the target language. It never
// lets an error escape its boundary: a failed translation returns the
// record with ErrorMarker text instead.
type Translator interface {
	Translate(ctx context.Context, rec task.Record) task.Record
}
