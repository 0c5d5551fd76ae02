// Package store is the bbolt-backed persistence layer behind
// types.TaskStore, plus sample records and a resource
// allocation ledger used by the reconciler to detect orphaned allocations
// after a restart. One bucket per entity, one json.Marshal'd record per
// key.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/dualhorizon/malbox/pkg/errors"
	"github.com/dualhorizon/malbox/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketTasks       = []byte("tasks")
	bucketSamples     = []byte("samples")
	bucketAllocations = []byte("allocations")
)

// Store implements types.TaskStore on top of a bbolt database file, and
// additionally persists Samples and the resource-allocation ledger the
// reconciler sweeps on startup.
type Store struct {
	db *bolt.DB
}

// Open creates (or reuses) malbox.db under dataDir and ensures every
// bucket exists.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "malbox.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTasks, bucketSamples, bucketAllocations} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func taskKey(id int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

// InsertTask assigns task a monotonic ID and persists it.
func (s *Store) InsertTask(ctx context.Context, task *types.Task) (int64, error) {
	var id int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		task.ID = id
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTasks).Put(taskKey(id), data)
	})
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

// LoadTask fetches a task by id.
func (s *Store) LoadTask(ctx context.Context, id int64) (*types.Task, error) {
	var task types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get(taskKey(id))
		if data == nil {
			return fmt.Errorf("task %d: %w", id, errors.ErrNotFound)
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// LoadPendingTasks returns every task not yet in a terminal state, the
// startup-recovery read the Task Coordinator issues before its scheduler
// loop starts.
func (s *Store) LoadPendingTasks(ctx context.Context) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if !task.State.IsTerminal() {
				tasks = append(tasks, &task)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load pending tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTaskState overwrites just the State field of an existing task.
func (s *Store) UpdateTaskState(ctx context.Context, id int64, state types.TaskState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get(taskKey(id))
		if data == nil {
			return fmt.Errorf("task %d: %w", id, errors.ErrNotFound)
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		task.State = state
		encoded, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		return b.Put(taskKey(id), encoded)
	})
}

// UpdateTaskResult records a task's terminal result.
func (s *Store) UpdateTaskResult(ctx context.Context, id int64, result string, taskErr error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get(taskKey(id))
		if data == nil {
			return fmt.Errorf("task %d: %w", id, errors.ErrNotFound)
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		if taskErr != nil {
			task.State = types.TaskStateFailed
			task.Error = taskErr.Error()
		} else {
			task.State = types.TaskStateCompleted
		}
		encoded, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		return b.Put(taskKey(id), encoded)
	})
}

// InsertSample persists a new Sample, assigning it a monotonic ID. A sample
// whose full hash bundle matches an existing record is not stored again:
// sample takes the existing record's ID, which is returned.
func (s *Store) InsertSample(ctx context.Context, sample *types.Sample) (int64, error) {
	var id int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSamples).ForEach(func(k, v []byte) error {
			var other types.Sample
			if err := json.Unmarshal(v, &other); err != nil {
				return err
			}
			if id == 0 && other.Hashes == sample.Hashes {
				id = other.ID
			}
			return nil
		}); err != nil {
			return err
		}
		if id != 0 {
			sample.ID = id
			return nil
		}
		seq, err := tx.Bucket(bucketSamples).NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		sample.ID = id
		data, err := json.Marshal(sample)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSamples).Put(taskKey(id), data)
	})
	if err != nil {
		return 0, fmt.Errorf("insert sample: %w", err)
	}
	return id, nil
}

// FindSampleByHash returns an existing sample sharing sha256, or
// ErrNotFound. A sample's hash bundle is its identity, so submitting a
// binary twice must find the first record instead of inserting another.
func (s *Store) FindSampleByHash(ctx context.Context, sha256 string) (*types.Sample, error) {
	var found *types.Sample
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSamples).ForEach(func(k, v []byte) error {
			if found != nil {
				return nil
			}
			var sample types.Sample
			if err := json.Unmarshal(v, &sample); err != nil {
				return err
			}
			if sample.Hashes.SHA256 == sha256 {
				cp := sample
				found = &cp
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("sample with sha256 %s: %w", sha256, errors.ErrNotFound)
	}
	return found, nil
}

// AllocationRecord is a durable record of a live Resource allocation,
// written when the Resource Manager allocates and removed on release. The
// reconciler diffs this ledger against the task store to find allocations
// whose owning task no longer exists.
type AllocationRecord struct {
	ResourceID string
	TaskID     int64
}

// PutAllocation upserts a ledger entry for resourceID.
func (s *Store) PutAllocation(ctx context.Context, rec AllocationRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAllocations).Put([]byte(rec.ResourceID), data)
	})
}

// DeleteAllocation removes resourceID's ledger entry.
func (s *Store) DeleteAllocation(ctx context.Context, resourceID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAllocations).Delete([]byte(resourceID))
	})
}

// ListAllocations returns every ledger entry.
func (s *Store) ListAllocations(ctx context.Context) ([]AllocationRecord, error) {
	var out []AllocationRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAllocations).ForEach(func(k, v []byte) error {
			var rec AllocationRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	return out, nil
}
