package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/example/rail-scheduler/internal/reservation"
)

var ErrNoSearch = errors.New("no search results for this session")

const DefaultTTL = time.Hour

// Search is the last result table shown to a browser session. Run
// selections are indexes into Offers.
type Search struct {
	Origin      string              `json:"origin"`
	Destination string              `json:"destination"`
	Date        string              `json:"date"`
	Time        string              `json:"time"`
	Offers      []reservation.Offer `json:"offers"`
	At          time.Time           `json:"at"`
}

// Store keeps per-session scratch data in badger. Entries expire after the
// TTL; nothing here is reservation history.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// Open opens the store under dir, or in memory when dir is empty.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("sessions: open: %w", err)
	}
	return &Store{db: db, ttl: DefaultTTL}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func searchKey(sid string) []byte { return []byte("search:" + sid) }

func (s *Store) SaveSearch(sid string, sr Search) error {
	b, err := json.Marshal(sr)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(searchKey(sid), b).WithTTL(s.ttl))
	})
}

func (s *Store) LastSearch(sid string) (Search, error) {
	var sr Search
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(searchKey(sid))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sr)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Search{}, ErrNoSearch
	}
	if err != nil {
		return Search{}, fmt.Errorf("sessions: read: %w", err)
	}
	return sr, nil
}

// Forget drops everything stored for sid.
func (s *Store) Forget(sid string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(searchKey(sid))
	})
}

// badgerLogger routes badger's own logging into slog; info and debug chatter
// is dropped.
type badgerLogger struct{ l *slog.Logger }

func (b badgerLogger) Errorf(f string, args ...any) {
	if b.l != nil {
		b.l.Error(fmt.Sprintf(f, args...), slog.String("component", "badger"))
	}
}

func (b badgerLogger) Warningf(f string, args ...any) {
	if b.l != nil {
		b.l.Warn(fmt.Sprintf(f, args...), slog.String("component", "badger"))
	}
}

func (badgerLogger) Infof(string, ...any)  {}
func (badgerLogger) Debugf(string, ...any) {}
