package history

import (
	"database/sql"
	"log"

	"github.com/evolu-go/core/internal/fingerprint"
	"github.com/evolu-go/core/internal/timestamp"
)

// IndexView adapts one owner's slice of the timestamp_index table to
// reconcile.Store, so the range reconciler can scan it directly instead of
// holding every timestamp in memory (spec §4.4, §6).
type IndexView struct {
	db      *sql.DB
	ownerID string
}

// IndexView returns a reconcile.Store view over ownerID's timestamp index.
func (s *Store) IndexView(ownerID string) *IndexView {
	return &IndexView{db: s.db, ownerID: ownerID}
}

func (v *IndexView) Size() int {
	var n int
	row := v.db.QueryRow(`SELECT COUNT(*) FROM timestamp_index WHERE owner_id = ?`, v.ownerID)
	if err := row.Scan(&n); err != nil {
		log.Printf("[history] IndexView.Size query failed: %v", err)
		return 0
	}
	return n
}

func (v *IndexView) Count(lower, upper timestamp.Timestamp) int {
	lo := timestamp.Encode(lower)
	hi := timestamp.Encode(upper)
	var n int
	row := v.db.QueryRow(`
		SELECT COUNT(*) FROM timestamp_index
		WHERE owner_id = ? AND ts > ? AND ts <= ?`, v.ownerID, lo[:], hi[:])
	if err := row.Scan(&n); err != nil {
		log.Printf("[history] IndexView.Count query failed: %v", err)
		return 0
	}
	return n
}

func (v *IndexView) Fingerprint(lower, upper timestamp.Timestamp) fingerprint.Fingerprint {
	lo := timestamp.Encode(lower)
	hi := timestamp.Encode(upper)
	rows, err := v.db.Query(`
		SELECT h1, h2 FROM timestamp_index
		WHERE owner_id = ? AND ts > ? AND ts <= ?`, v.ownerID, lo[:], hi[:])
	if err != nil {
		log.Printf("[history] IndexView.Fingerprint query failed: %v", err)
		return fingerprint.Zero
	}
	defer rows.Close()

	var f fingerprint.Fingerprint
	for rows.Next() {
		var h1, h2 int64
		if err := rows.Scan(&h1, &h2); err != nil {
			log.Printf("[history] IndexView.Fingerprint scan failed: %v", err)
			continue
		}
		f = fingerprint.XOR(f, fingerprint.JoinHalves(h1, h2))
	}
	return f
}

// FindLowerBound walks backward from upper until targetCount rows have been
// passed, returning the timestamp just below the first of them.
func (v *IndexView) FindLowerBound(upper timestamp.Timestamp, targetCount int) timestamp.Timestamp {
	if targetCount <= 0 {
		return timestamp.Zero
	}
	hi := timestamp.Encode(upper)
	rows, err := v.db.Query(`
		SELECT ts FROM timestamp_index
		WHERE owner_id = ? AND ts <= ?
		ORDER BY ts DESC LIMIT 1 OFFSET ?`, v.ownerID, hi[:], targetCount)
	if err != nil {
		log.Printf("[history] IndexView.FindLowerBound query failed: %v", err)
		return timestamp.Zero
	}
	defer rows.Close()

	if !rows.Next() {
		return timestamp.Zero
	}
	var ts []byte
	if err := rows.Scan(&ts); err != nil {
		log.Printf("[history] IndexView.FindLowerBound scan failed: %v", err)
		return timestamp.Zero
	}
	decoded, err := timestamp.Decode(ts)
	if err != nil {
		return timestamp.Zero
	}
	return decoded
}

func (v *IndexView) Iterate(lower, upper timestamp.Timestamp, cb func(timestamp.Timestamp) bool) {
	lo := timestamp.Encode(lower)
	hi := timestamp.Encode(upper)
	rows, err := v.db.Query(`
		SELECT ts FROM timestamp_index
		WHERE owner_id = ? AND ts > ? AND ts <= ?
		ORDER BY ts ASC`, v.ownerID, lo[:], hi[:])
	if err != nil {
		log.Printf("[history] IndexView.Iterate query failed: %v", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var ts []byte
		if err := rows.Scan(&ts); err != nil {
			log.Printf("[history] IndexView.Iterate scan failed: %v", err)
			return
		}
		decoded, err := timestamp.Decode(ts)
		if err != nil {
			continue
		}
		if !cb(decoded) {
			return
		}
	}
}
