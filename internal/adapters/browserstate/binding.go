package browserstate

import (
	"net/http"

	"coachhub/internal/domain/impersonation"
)

// RecordBinding is the impersonation record as seen by one request. Saves and
// clears are written to the response and are visible to later loads on the
// same binding, so a handler can read back what it just wrote.
type RecordBinding struct {
	jar *Jar
	w   http.ResponseWriter
	r   *http.Request

	loaded bool
	rec    *impersonation.Record
	err    error
}

// Bind returns the record binding for one request/response pair.
func (j *Jar) Bind(w http.ResponseWriter, r *http.Request) *RecordBinding {
	return &RecordBinding{jar: j, w: w, r: r}
}

// Load returns the current record.
// POST: (nil, nil) when absent; (nil, ErrCorruptImpersonationRecord) when unreadable
func (b *RecordBinding) Load() (*impersonation.Record, error) {
	if !b.loaded {
		b.rec, b.err = b.jar.Record(b.r)
		b.loaded = true
	}
	if b.rec == nil {
		return nil, b.err
	}
	cp := *b.rec
	return &cp, nil
}

// Save writes rec and replaces what Load returns.
// PRE: rec.Validate() == nil
func (b *RecordBinding) Save(rec impersonation.Record) error {
	if err := b.jar.SetRecord(b.w, rec); err != nil {
		return err
	}
	b.rec, b.err, b.loaded = &rec, nil, true
	return nil
}

// Clear removes the record. Clearing an absent record is harmless.
func (b *RecordBinding) Clear() {
	b.jar.ClearRecord(b.w)
	b.rec, b.err, b.loaded = nil, nil, true
}
