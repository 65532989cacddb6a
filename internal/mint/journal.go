package mint

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/fsutil"
)

// JournalFile is written to the backup directory while a transaction runs.
const JournalFile = "pending.json"

// Move is a file renamed by a transaction. Paths are repo-relative.
type Move struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Journal records everything needed to undo an interrupted transaction. It
// is written in full before the first mutation and removed once the
// transaction is locked or rolled back.
type Journal struct {
	TxID        string    `json:"tx_id"`
	Kind        string    `json:"kind"` // "confirm" or "reseed"
	Project     string    `json:"project"`
	FromVersion int       `json:"from_version"`
	ToVersion   int       `json:"to_version"`
	Backup      string    `json:"backup_zip"`
	Created     []string  `json:"created,omitempty"`
	Moved       []Move    `json:"moved,omitempty"`
	Marker      []byte    `json:"marker,omitempty"`      // previous backup marker, nil when there was none
	IndexStash  string    `json:"index_stash,omitempty"` // copy of the index before the transaction, empty when there was none
	StartedAt   time.Time `json:"started_at"`
}

func readJournal(fs afero.Fs, path string) (*Journal, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.AtPath(errors.KindTransaction, path, "read journal", err)
	}
	var j Journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, errors.AtPath(errors.KindTransaction, path, "journal is not valid JSON", err)
	}
	return &j, nil
}

func writeJournal(fs afero.Fs, path string, j *Journal) error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return errors.Wrap(errors.KindTransaction, "encode journal", err)
	}
	if err := fsutil.WriteFileAtomic(fs, path, append(data, '\n'), 0o644); err != nil {
		return errors.AtPath(errors.KindTransaction, path, "write journal", err)
	}
	return nil
}
