package branchstore

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// Badger takes a directory lock, so trees of one container opened at the
// same time share a single handle.
var (
	dbMu sync.Mutex
	dbs  = map[string]*sharedDB{}
)

type sharedDB struct {
	db   *badger.DB
	path string
	refs int
}

func acquire(path string, log *zap.Logger) (*sharedDB, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	dbMu.Lock()
	defer dbMu.Unlock()
	if s, ok := dbs[abs]; ok {
		s.refs++
		return s, nil
	}
	opts := badger.DefaultOptions(abs).
		WithLoggingLevel(badger.ERROR).
		WithLogger(badgerLogger{log.Sugar()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	s := &sharedDB{db: db, path: abs, refs: 1}
	dbs[abs] = s
	return s, nil
}

func (s *sharedDB) release() error {
	dbMu.Lock()
	defer dbMu.Unlock()
	s.refs--
	if s.refs > 0 {
		return nil
	}
	delete(dbs, s.path)
	return s.db.Close()
}

// badgerLogger routes Badger's own logging through zap. Badger ignores
// WithLoggingLevel for a custom logger and reports compaction and level
// statistics at info, so everything below warnings is logged at debug.
type badgerLogger struct {
	l *zap.SugaredLogger
}

func (b badgerLogger) Errorf(f string, v ...interface{})   { b.l.Errorf(trim(f), v...) }
func (b badgerLogger) Warningf(f string, v ...interface{}) { b.l.Warnf(trim(f), v...) }
func (b badgerLogger) Infof(f string, v ...interface{})    { b.l.Debugf(trim(f), v...) }
func (b badgerLogger) Debugf(f string, v ...interface{})   { b.l.Debugf(trim(f), v...) }

func trim(f string) string { return strings.TrimSuffix(f, "\n") }
