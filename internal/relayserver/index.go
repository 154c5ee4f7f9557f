package relayserver

import (
	"log"

	"github.com/evolu-go/core/internal/fingerprint"
	"github.com/evolu-go/core/internal/timestamp"
)

// indexView adapts one owner's slice of relay_timestamp_index to
// reconcile.Store, the same shape as internal/history.IndexView but over
// the relay's own table (spec §4.4).
type indexView struct {
	store   *Store
	ownerID string
}

func (s *Store) IndexView(ownerID string) *indexView {
	return &indexView{store: s, ownerID: ownerID}
}

func (v *indexView) Size() int {
	var n int
	row := v.store.db.QueryRow(`SELECT COUNT(*) FROM relay_timestamp_index WHERE owner_id = ?`, v.ownerID)
	if err := row.Scan(&n); err != nil {
		log.Printf("[relayserver] indexView.Size query failed: %v", err)
		return 0
	}
	return n
}

func (v *indexView) Count(lower, upper timestamp.Timestamp) int {
	lo := timestamp.Encode(lower)
	hi := timestamp.Encode(upper)
	var n int
	row := v.store.db.QueryRow(`
		SELECT COUNT(*) FROM relay_timestamp_index
		WHERE owner_id = ? AND ts > ? AND ts <= ?`, v.ownerID, lo[:], hi[:])
	if err := row.Scan(&n); err != nil {
		log.Printf("[relayserver] indexView.Count query failed: %v", err)
		return 0
	}
	return n
}

func (v *indexView) Fingerprint(lower, upper timestamp.Timestamp) fingerprint.Fingerprint {
	lo := timestamp.Encode(lower)
	hi := timestamp.Encode(upper)
	rows, err := v.store.db.Query(`
		SELECT h1, h2 FROM relay_timestamp_index
		WHERE owner_id = ? AND ts > ? AND ts <= ?`, v.ownerID, lo[:], hi[:])
	if err != nil {
		log.Printf("[relayserver] indexView.Fingerprint query failed: %v", err)
		return fingerprint.Zero
	}
	defer rows.Close()

	var f fingerprint.Fingerprint
	for rows.Next() {
		var h1, h2 int64
		if err := rows.Scan(&h1, &h2); err != nil {
			log.Printf("[relayserver] indexView.Fingerprint scan failed: %v", err)
			continue
		}
		f = fingerprint.XOR(f, fingerprint.JoinHalves(h1, h2))
	}
	return f
}

func (v *indexView) FindLowerBound(upper timestamp.Timestamp, targetCount int) timestamp.Timestamp {
	if targetCount <= 0 {
		return timestamp.Zero
	}
	hi := timestamp.Encode(upper)
	rows, err := v.store.db.Query(`
		SELECT ts FROM relay_timestamp_index
		WHERE owner_id = ? AND ts <= ?
		ORDER BY ts DESC LIMIT 1 OFFSET ?`, v.ownerID, hi[:], targetCount)
	if err != nil {
		log.Printf("[relayserver] indexView.FindLowerBound query failed: %v", err)
		return timestamp.Zero
	}
	defer rows.Close()
	if !rows.Next() {
		return timestamp.Zero
	}
	var ts []byte
	if err := rows.Scan(&ts); err != nil {
		return timestamp.Zero
	}
	decoded, err := timestamp.Decode(ts)
	if err != nil {
		return timestamp.Zero
	}
	return decoded
}

func (v *indexView) Iterate(lower, upper timestamp.Timestamp, cb func(timestamp.Timestamp) bool) {
	lo := timestamp.Encode(lower)
	hi := timestamp.Encode(upper)
	rows, err := v.store.db.Query(`
		SELECT ts FROM relay_timestamp_index
		WHERE owner_id = ? AND ts > ? AND ts <= ?
		ORDER BY ts ASC`, v.ownerID, lo[:], hi[:])
	if err != nil {
		log.Printf("[relayserver] indexView.Iterate query failed: %v", err)
		return
	}
	defer rows.Close()
	for rows.Next() {
		var ts []byte
		if err := rows.Scan(&ts); err != nil {
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
