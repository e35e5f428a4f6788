package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// devicesBucket holds one key per device name; values are boltRecord JSON.
var devicesBucket = []byte("devices")

// boltRecord is the on-disk value for a device key.
type boltRecord struct {
	Active     bool      `json:"active"`
	Attributes []byte    `json:"attributes,omitempty"`
	Version    int64     `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BoltStore implements Store on a bbolt file.
//
// bbolt allows a single read-write transaction at a time, so every mutation,
// including Toggle and Update, is serialized by the database itself.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the bbolt file at path. timeout bounds the
// wait for the file lock held by another process.
func OpenBoltStore(path string, timeout time.Duration) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, storageError("creating bolt directory", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, storageError("opening bolt file", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(devicesBucket)
		return err
	})
	if err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, storageError("creating devices bucket", err)
	}

	return &BoltStore{db: db}, nil
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing bolt store: %w", err)
	}
	return nil
}

// Path returns the file backing the store.
func (s *BoltStore) Path() string {
	return s.db.Path()
}

// Initialize puts a default record for each missing name.
func (s *BoltStore) Initialize(ctx context.Context, names []string) error {
	if err := ValidateNames(names); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	seed, err := json.Marshal(boltRecord{UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding seed record: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(devicesBucket)
		for _, name := range names {
			if b.Get([]byte(name)) != nil {
				continue
			}
			if err := b.Put([]byte(name), seed); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storageError("seeding devices", err)
	}
	return nil
}

// Get returns the record for name.
func (s *BoltStore) Get(ctx context.Context, name string) (*Device, error) {
	devices, err := s.GetMany(ctx, []string{name})
	if err != nil {
		return nil, err
	}
	return &devices[0], nil
}

// GetMany reads every name in one read transaction.
func (s *BoltStore) GetMany(ctx context.Context, names []string) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Device, 0, len(names))
	var missing string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(devicesBucket)
		for _, name := range names {
			v := b.Get([]byte(name))
			if v == nil {
				missing = name
				return nil
			}
			d, err := decodeBoltRecord(name, v)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, storageError("reading devices", err)
	}
	if missing != "" {
		return nil, notFound(missing)
	}
	return out, nil
}

// ListByPrefix seeks to prefix and walks keys in byte order.
func (s *BoltStore) ListByPrefix(ctx context.Context, prefix string) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := []byte(prefix)
	out := []Device{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(devicesBucket).Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			d, err := decodeBoltRecord(string(k), v)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, storageError("listing devices", err)
	}
	return out, nil
}

// List returns every device in key order.
func (s *BoltStore) List(ctx context.Context) ([]Device, error) {
	return s.ListByPrefix(ctx, "")
}

// SetActive replaces the active flag.
func (s *BoltStore) SetActive(ctx context.Context, name string, active bool) (*Device, error) {
	return s.Update(ctx, name, func(d Device) (Device, error) {
		d.Active = active
		return d, nil
	})
}

// SetAttributes replaces the attributes payload.
func (s *BoltStore) SetAttributes(ctx context.Context, name string, attrs Attributes) (*Device, error) {
	return s.Update(ctx, name, func(d Device) (Device, error) {
		d.Attributes = attrs.Clone()
		return d, nil
	})
}

// Toggle negates active inside one write transaction.
func (s *BoltStore) Toggle(ctx context.Context, name string) (*Device, error) {
	return s.Update(ctx, name, func(d Device) (Device, error) {
		d.Active = !d.Active
		return d, nil
	})
}

// Update runs fn inside a bbolt write transaction.
func (s *BoltStore) Update(ctx context.Context, name string, fn UpdateFunc) (*Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		updated Device
		fnErr   error
		missing bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(devicesBucket)
		v := b.Get([]byte(name))
		if v == nil {
			missing = true
			return nil
		}
		current, err := decodeBoltRecord(name, v)
		if err != nil {
			return err
		}

		next, err := fn(current.Clone())
		if err != nil {
			fnErr = err
			return err
		}

		updated = Device{
			Name:       name,
			Active:     next.Active,
			Attributes: next.Attributes.Clone(),
			Version:    current.Version + 1,
			UpdatedAt:  time.Now().UTC(),
		}
		return b.Put([]byte(name), encodeBoltRecord(updated))
	})
	if missing {
		return nil, notFound(name)
	}
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, storageError("updating device", err)
	}
	return &updated, nil
}

func decodeBoltRecord(name string, v []byte) (Device, error) {
	var r boltRecord
	if err := json.Unmarshal(v, &r); err != nil {
		return Device{}, fmt.Errorf("decoding record %q: %w", name, err)
	}
	return Device{
		Name:       name,
		Active:     r.Active,
		Attributes: Attributes(r.Attributes).Clone(),
		Version:    r.Version,
		UpdatedAt:  r.UpdatedAt.UTC(),
	}, nil
}

func encodeBoltRecord(d Device) []byte {
	// boltRecord has only marshalable fields; Marshal cannot fail.
	v, _ := json.Marshal(boltRecord{ //nolint:errcheck // See above
		Active:     d.Active,
		Attributes: d.Attributes,
		Version:    d.Version,
		UpdatedAt:  d.UpdatedAt,
	})
	return v
}
