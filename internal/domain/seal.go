package domain

// WatchType distinguishes whether a seal record tracks the current object
// version's anchor address ("this") or the predictable anchor address of its
// eventual successor version ("next").
type WatchType string

const (
	WatchThis WatchType = "this"
	WatchNext WatchType = "next"
)

// MaxSealErrors bounds the per-record error ring buffer.
const MaxSealErrors = 10

// SealError is one recorded write/read failure on a seal record.
type SealError struct {
	Time    int64  `json:"time"`
	Message string `json:"message"`
}

// Seal is a blockchain anchor record for one payload link. At most one seal
// record exists per Link.
//
// Lifecycle: created pending (Unsealed set for writes, clear for watches) →
// write attempted (TxID assigned, Unsealed cleared) → confirmations polled
// until the network threshold (Unconfirmed cleared) → terminal. On failure
// the record keeps its prior state and accumulates an error entry; stalled
// records are requeued or canceled by the reconciliation sweep.
type Seal struct {
	ID            string      `json:"id"`
	Link          Link        `json:"link"`
	Permalink     Link        `json:"permalink,omitempty"`
	Blockchain    string      `json:"blockchain"`
	Network       string      `json:"network"`
	Address       string      `json:"address"`
	PubKey        string      `json:"pubKey"`
	WatchType     WatchType   `json:"watchType"`
	Time          int64       `json:"time"`
	Confirmations int         `json:"confirmations"`
	TxID          string      `json:"txId,omitempty"`
	TimeSealed    int64       `json:"timeSealed,omitempty"`
	Errors        []SealError `json:"errors,omitempty"`

	// Unsealed is present only while a write transaction has not yet been
	// broadcast. Unconfirmed is present until the confirmation threshold is
	// met. Unwatched marks a canceled read that never produced a tx.
	Unsealed    bool `json:"unsealed,omitempty"`
	Unconfirmed bool `json:"unconfirmed,omitempty"`
	Unwatched   bool `json:"unwatched,omitempty"`
}

// RecordError appends a failure to the bounded ring buffer.
func (s *Seal) RecordError(at int64, message string) {
	s.Errors = append(s.Errors, SealError{Time: at, Message: message})
	if len(s.Errors) > MaxSealErrors {
		s.Errors = s.Errors[len(s.Errors)-MaxSealErrors:]
	}
}
