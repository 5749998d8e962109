package resilience

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/symbio-data/engine-cli/internal/model"
)

// QuarantineEntry holds a record that could not be applied, with enough
// context to retry it once the missing reference or transient condition is
// resolved. Quarantined records are never aggregated.
type QuarantineEntry struct {
	RunID         string          `json:"run_id"`
	Key           string          `json:"key"`
	Record        model.RawRecord `json:"record"`
	Error         string          `json:"error"`
	ErrorType     string          `json:"error_type"` // "transient" or "permanent"
	QuarantinedAt time.Time       `json:"quarantined_at"`
}

// Quarantine appends rejected records to an NDJSON file so a later run can
// replay them. A nil *Quarantine is valid and drops entries.
type Quarantine struct {
	mu   sync.Mutex
	path string
}

// NewQuarantine returns a quarantine sink writing to path. An empty path
// returns nil, which silently discards entries.
func NewQuarantine(path string) *Quarantine {
	if path == "" {
		return nil
	}
	return &Quarantine{path: path}
}

// Add appends one entry. Safe for concurrent use.
func (q *Quarantine) Add(entry QuarantineEntry) error {
	if q == nil {
		return nil
	}
	if entry.QuarantinedAt.IsZero() {
		entry.QuarantinedAt = time.Now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return eris.Wrapf(err, "quarantine: open %s", q.path)
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "quarantine: encode entry")
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return eris.Wrapf(err, "quarantine: write %s", q.path)
	}
	return nil
}
