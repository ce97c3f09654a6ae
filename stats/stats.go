// Package stats accumulates per handle transfer accounting and can journal
// close time snapshots to a small on disk store for later inspection.
package stats

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/rarydzu/gblockfile/utils"
	"github.com/syndtr/goleveldb/leveldb"
	lutil "github.com/syndtr/goleveldb/leveldb/util"
	"github.com/ztrue/tracerr"
)

// Counters is per handle accounting. A handle is driven by one logical
// caller, so the fields are plain integers.
type Counters struct {
	Reads              uint64
	Writes             uint64
	HostBytesRead      uint64
	HostBytesWritten   uint64
	DeviceBytesRead    uint64
	DeviceBytesWritten uint64
	BytesZeroFilled    uint64
	WorkerSpawns       uint64
}

const counterFields = 8

// Marshall encodes the counters.
func (c *Counters) Marshall() []byte {
	buf := make([]byte, 0, counterFields*8)
	for _, v := range [counterFields]uint64{
		c.Reads, c.Writes,
		c.HostBytesRead, c.HostBytesWritten,
		c.DeviceBytesRead, c.DeviceBytesWritten,
		c.BytesZeroFilled, c.WorkerSpawns,
	} {
		buf = append(buf, utils.Uint64ToBytes(v)...)
	}
	return buf
}

// Unmarshall decodes counters encoded with Marshall.
func (c *Counters) Unmarshall(buf []byte) error {
	if len(buf) != counterFields*8 {
		return fmt.Errorf("counters record has wrong size %d", len(buf))
	}
	vals := [counterFields]uint64{}
	for i := range vals {
		vals[i] = utils.BytesToUint64(buf[i*8 : i*8+8])
	}
	c.Reads = vals[0]
	c.Writes = vals[1]
	c.HostBytesRead = vals[2]
	c.HostBytesWritten = vals[3]
	c.DeviceBytesRead = vals[4]
	c.DeviceBytesWritten = vals[5]
	c.BytesZeroFilled = vals[6]
	c.WorkerSpawns = vals[7]
	return nil
}

// Record is one journaled snapshot.
type Record struct {
	Time     time.Time
	Counters Counters
}

// Journal persists counter snapshots keyed by file name and time.
type Journal struct {
	db    *leveldb.DB
	clock timeutil.Clock
}

// OpenJournal creates or opens a journal at path. A nil clock means the real
// clock.
func OpenJournal(path string, clock timeutil.Clock) (*Journal, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, tracerr.Errorf("opening stats journal %s failed: %w", path, err)
	}
	if clock == nil {
		clock = timeutil.RealClock()
	}
	return &Journal{
		db:    db,
		clock: clock,
	}, nil
}

func recordKey(name string, t time.Time) []byte {
	key := append([]byte(name), 0)
	return append(key, utils.Uint64ToBytes(uint64(t.UnixNano()))...)
}

// Record stores a snapshot of c for name at the journal clock's current time.
func (j *Journal) Record(name string, c *Counters) error {
	return j.db.Put(recordKey(name, j.clock.Now()), c.Marshall(), nil)
}

// Records returns all snapshots stored for name, oldest first.
func (j *Journal) Records(name string) ([]Record, error) {
	prefix := append([]byte(name), 0)
	records := []Record{}
	iter := j.db.NewIterator(lutil.BytesPrefix(prefix), nil)
	for iter.Next() {
		key := iter.Key()
		if !bytes.HasPrefix(key, prefix) || len(key) != len(prefix)+8 {
			continue
		}
		r := Record{
			Time: time.Unix(0, int64(utils.BytesToUint64(key[len(prefix):]))),
		}
		if err := r.Counters.Unmarshall(iter.Value()); err != nil {
			iter.Release()
			return nil, err
		}
		records = append(records, r)
	}
	iter.Release()
	return records, iter.Error()
}

// Close closes the journal store.
func (j *Journal) Close() error {
	return j.db.Close()
}
