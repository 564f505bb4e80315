package profiling

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	bolt "go.etcd.io/bbolt"

	"github.com/go-i2p/go-onionpath/lib/common"
)

const (
	metadataBucket = "metadata"
	profilesBucket = "profiles"
	versionKey     = "version"
	storeVersion   = 0
)

// openTimeout bounds waiting for another process's file lock.
const openTimeout = 2 * time.Second

// Store persists router profiles in a bbolt database, one CBOR encoded
// RouterProfile per relay id.
type Store struct {
	db *bolt.DB
}

// OpenStore creates or loads the database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, oops.Wrapf(err, "create profile store directory")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, oops.Wrapf(err, "open profile store %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(profilesBucket)); err != nil {
			return err
		}
		if b := meta.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != storeVersion {
				return fmt.Errorf("profiling: incompatible store version %v", b)
			}
			return nil
		}
		return meta.Put([]byte(versionKey), []byte{storeVersion})
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if err := s.db.Sync(); err != nil {
		log.WithError(err).Warn("profile store sync failed")
	}
	return s.db.Close()
}

// Save writes every profile held by p, replacing what was stored.
func (s *Store) Save(p *Profiler) error {
	snap := p.snapshot()
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(profilesBucket)); err != nil {
			return err
		}
		bkt, err := tx.CreateBucket([]byte(profilesBucket))
		if err != nil {
			return err
		}
		for id, prof := range snap {
			raw, err := cbor.Marshal(prof)
			if err != nil {
				return err
			}
			if err := bkt.Put(id.Bytes(), raw); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return oops.Wrapf(err, "save profiles")
	}
	log.WithFields(logger.Fields{
		"at":       "(Store) Save",
		"profiles": len(snap),
	}).Debug("saved router profiles")
	return nil
}

// Load merges the stored profiles into p. Entries that fail to decode are
// skipped.
func (s *Store) Load(p *Profiler) error {
	loaded := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(profilesBucket))
		return bkt.ForEach(func(k, v []byte) error {
			id, err := common.RouterIDFromBytes(k)
			if err != nil {
				return nil
			}
			var prof RouterProfile
			if err := cbor.Unmarshal(v, &prof); err != nil {
				log.WithFields(logger.Fields{
					"at":     "(Store) Load",
					"router": id.Short(),
				}).WithError(err).Warn("skipping corrupt profile")
				return nil
			}
			p.restore(id, prof)
			loaded++
			return nil
		})
	})
	if err != nil {
		return oops.Wrapf(err, "load profiles")
	}
	log.WithFields(logger.Fields{
		"at":       "(Store) Load",
		"profiles": loaded,
	}).Debug("loaded router profiles")
	return nil
}
