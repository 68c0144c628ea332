package task

// Record is one transcribed, optionally translated, text unit as delivered
// to the client.
type Record struct {
	Index int     `json:"segment_index"`
	Start float64 `json:"start_time"`
	End   float64 `json:"end_time"`
	Text  string  `json:"text"`
}

// Status values reported to the client in place of further records.
const (
	StatusCancelled = "cancelled"
	StatusError     = "error"
)

// Status is a terminal payload. A stream carries at most one.
type Status struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Kind discriminates the variants carried on task queues.
type Kind int

const (
	// KindRecord carries a Record payload.
	KindRecord Kind = iota

	// KindStatus carries a terminal Status payload.
	KindStatus

	// KindEnd means no further messages will arrive on this queue.
	// It is internal only and is never serialized.
	KindEnd
)

// Message is the single hand-off type between pipeline stages. Exactly one
// payload field is meaningful, selected by Kind.
type Message struct {
	Kind   Kind
	Record Record
	Status Status
}

// RecordMessage wraps a record for queue transport.
func RecordMessage(r Record) Message {
	return Message{Kind: KindRecord, Record: r}
}

// StatusMessage wraps a terminal status for queue transport.
func StatusMessage(status, message string) Message {
	return Message{Kind: KindStatus, Status: Status{Status: status, Message: message}}
}

// EndMessage returns the stream-end marker.
func EndMessage() Message {
	return Message{Kind: KindEnd}
}
