package storage

import (
	"fmt"

	mdb "github.com/msackman/gomdb"
	mdbs "github.com/msackman/gomdb/server"
	"github.com/pkg/errors"

	"github.com/rain168/paxoskv"
)

// LMDB is the durable Storage backend: one LMDB environment, one
// database of key -> gob-encoded Record, fsync-on-commit by default.
// CAS is a read-modify-write inside a single write transaction, so the
// compare and the swap are never observed apart (spec §3's durability
// invariant) — the same shape the teacher's AcceptorManager uses to
// persist BallotOutcomes, generalized from a fixed-size TxnId key to an
// arbitrary-length Key.
type LMDB struct {
	env     *mdbs.MDBServer
	records mdb.DBI
}

// LMDBOptions mirrors the handful of knobs the teacher's server
// bootstrap exposes for its db.Databases: path, map size, worker count.
type LMDBOptions struct {
	Path       string
	MapSize    uint64
	NumWorkers uint
}

func DefaultLMDBOptions(path string) LMDBOptions {
	return LMDBOptions{Path: path, MapSize: 1 << 30, NumWorkers: 1}
}

func OpenLMDB(opts LMDBOptions) (*LMDB, error) {
	l := &LMDB{}
	server, err := mdbs.NewMDBServer(
		opts.Path,
		mdb.CREATE,
		0600,
		opts.MapSize,
		opts.NumWorkers,
		opts.NumWorkers,
		func(rwtxn *mdbs.RWTxn) error {
			dbi, err := rwtxn.DBICreate("records", mdb.CREATE)
			if err != nil {
				return err
			}
			l.records = dbi
			return nil
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "open lmdb storage")
	}
	l.env = server
	return l, nil
}

func (l *LMDB) Get(key paxoskv.Key) (Record, error) {
	res, err := l.env.ReadonlyTransaction(func(rtxn *mdbs.RTxn) interface{} {
		data, err := rtxn.Get(l.records, key)
		if err == mdb.NotFound {
			return Record{}
		} else if err != nil {
			rtxn.Error(err)
			return nil
		}
		rec, err := decodeRecord(data)
		if err != nil {
			rtxn.Error(err)
			return nil
		}
		return rec
	}).ResultError()
	if err != nil {
		return Record{}, &Fault{Op: "get", Key: key, Err: err}
	}
	return res.(Record), nil
}

func (l *LMDB) CAS(key paxoskv.Key, old, new Record) (bool, error) {
	res, err := l.env.ReadWriteTransaction(func(rwtxn *mdbs.RWTxn) interface{} {
		data, err := rwtxn.Get(l.records, key)
		var current Record
		switch err {
		case nil:
			current, err = decodeRecord(data)
			if err != nil {
				rwtxn.Error(err)
				return false
			}
		case mdb.NotFound:
			current = Record{}
		default:
			rwtxn.Error(err)
			return false
		}
		if !current.Equal(old) {
			return false
		}
		encoded, err := encodeRecord(new)
		if err != nil {
			rwtxn.Error(err)
			return false
		}
		if err := rwtxn.Put(l.records, key, encoded, 0); err != nil {
			rwtxn.Error(err)
			return false
		}
		return true
	}).ResultError()
	if err != nil {
		return false, &Fault{Op: "cas", Key: key, Err: err}
	}
	return res.(bool), nil
}

// Load walks the database once at boot, the cursor-scan shape the
// teacher's AcceptorDispatcher.loadFromDisk uses to repopulate its
// in-memory acceptor index after a restart.
func (l *LMDB) Load(fn func(key paxoskv.Key, rec Record)) error {
	type entry struct {
		key paxoskv.Key
		rec Record
	}
	res, err := l.env.ReadonlyTransaction(func(rtxn *mdbs.RTxn) interface{} {
		res, _ := rtxn.WithCursor(l.records, func(cursor *mdbs.Cursor) interface{} {
			entries := make([]entry, 0, 64)
			keyData, recData, err := cursor.Get(nil, nil, mdb.FIRST)
			for ; err == nil; keyData, recData, err = cursor.Get(nil, nil, mdb.NEXT) {
				rec, decErr := decodeRecord(recData)
				if decErr != nil {
					cursor.Error(decErr)
					return nil
				}
				k := make(paxoskv.Key, len(keyData))
				copy(k, keyData)
				entries = append(entries, entry{key: k, rec: rec})
			}
			if err != mdb.NotFound {
				cursor.Error(err)
				return nil
			}
			return entries
		})
		return res
	}).ResultError()
	if err != nil {
		return errors.Wrap(err, "load lmdb storage")
	}
	if res == nil {
		return nil
	}
	for _, e := range res.([]entry) {
		fn(e.key, e.rec)
	}
	return nil
}

func (l *LMDB) Close() error {
	l.env.Shutdown()
	return nil
}

func (l *LMDB) String() string {
	return fmt.Sprintf("LMDB(records=%v)", l.records)
}
