package models

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
)

// The leaf capacity used when a tree is created without one.
const DefaultCapacity = 16

// TreeSnapshot is the persisted form of a tree.
type TreeSnapshot struct {
	ID        string
	Dims      int
	Data      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Persister is the interface to save trees somewhere that outlives the
// process, such as a SQLite database.
type Persister interface {
	// Saves or replaces the snapshot with the same id.
	Save(ctx context.Context, s TreeSnapshot) error

	// Returns all the saved snapshots.
	LoadAll(ctx context.Context) ([]TreeSnapshot, error)

	// Deletes the snapshot with the given id. Deleting a missing snapshot
	// is not an error.
	Delete(ctx context.Context, id string) error
}

// TreeStore holds the trees served by the application.
type TreeStore struct {
	// The capacity given to trees created without one.
	DefaultCapacity int

	// Where tree snapshots are persisted. Persistence is disabled when nil.
	Persister Persister

	initOnce sync.Once
	mutex    sync.RWMutex
	trees    map[string]*Tree

	// Held while writing to the persister so that a snapshot of a tree can
	// not land after the tree was removed.
	persistMutex sync.Mutex
}

func (s *TreeStore) init() {
	s.trees = map[string]*Tree{}

	if s.DefaultCapacity < 1 {
		s.DefaultCapacity = DefaultCapacity
	}
}

// Create creates a tree and adds it to the store.
func (s *TreeStore) Create(opts TreeOptions) (*Tree, error) {
	s.initOnce.Do(s.init)

	if opts.Capacity == 0 {
		opts.Capacity = s.DefaultCapacity
	}

	tree, err := NewTree(uuid.NewString(), opts)
	if err != nil {
		return nil, errors.New("creating tree failed").
			WithType(errors.Type(err)).
			Wrap(err)
	}

	s.add(tree)

	logs.WithTag("tree_id", tree.ID).
		WithTag("dims", tree.Dims).
		WithTag("points", len(opts.Points)).
		Info("tree created")
	return tree, nil
}

func (s *TreeStore) add(tree *Tree) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.trees[tree.ID]; !ok {
		instrumentIncreaseTreeGauge(tree.Dims)
	}
	s.trees[tree.ID] = tree
}

// Get returns the tree with the given id.
func (s *TreeStore) Get(id string) (*Tree, error) {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tree, ok := s.trees[id]
	if !ok {
		return nil, errors.New("tree not found").
			WithType(ErrTypeTreeNotFound).
			WithTag("tree_id", id)
	}
	return tree, nil
}

// List returns the trees ordered by creation time.
func (s *TreeStore) List() []*Tree {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	trees := make([]*Tree, 0, len(s.trees))
	for _, t := range s.trees {
		trees = append(trees, t)
	}
	s.mutex.RUnlock()

	sort.Slice(trees, func(i, j int) bool {
		if trees[i].CreatedAt.Equal(trees[j].CreatedAt) {
			return trees[i].ID < trees[j].ID
		}
		return trees[i].CreatedAt.Before(trees[j].CreatedAt)
	})
	return trees
}

func (s *TreeStore) Len() int {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.trees)
}

// Remove removes the tree with the given id, and its persisted snapshot
// when persistence is enabled.
func (s *TreeStore) Remove(ctx context.Context, id string) error {
	s.initOnce.Do(s.init)

	s.persistMutex.Lock()
	defer s.persistMutex.Unlock()

	s.mutex.Lock()
	tree, ok := s.trees[id]
	delete(s.trees, id)
	s.mutex.Unlock()

	if !ok {
		return errors.New("tree not found").
			WithType(ErrTypeTreeNotFound).
			WithTag("tree_id", id)
	}
	instrumentDecreaseTreeGauge(tree.Dims)

	if s.Persister != nil {
		if err := s.Persister.Delete(ctx, id); err != nil {
			return errors.New("deleting tree snapshot failed").
				WithType(ErrTypeStorage).
				WithTag("tree_id", id).
				Wrap(err)
		}
	}

	logs.WithTag("tree_id", id).Info("tree removed")
	return nil
}

// Save persists the tree with the given id. A tree removed concurrently is
// either deleted after being saved or reported as not found.
func (s *TreeStore) Save(ctx context.Context, id string) (TreeSnapshot, error) {
	if s.Persister == nil {
		return TreeSnapshot{}, errors.New("persistence is disabled").
			WithType(ErrTypeStorage)
	}

	s.persistMutex.Lock()
	defer s.persistMutex.Unlock()

	tree, err := s.Get(id)
	if err != nil {
		return TreeSnapshot{}, err
	}

	data, err := tree.Snapshot()
	if err != nil {
		return TreeSnapshot{}, errors.New("encoding tree snapshot failed").
			WithTag("tree_id", id).
			Wrap(err)
	}

	snapshot := TreeSnapshot{
		ID:        tree.ID,
		Dims:      tree.Dims,
		Data:      data,
		CreatedAt: tree.CreatedAt.UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err = s.Persister.Save(ctx, snapshot); err != nil {
		return TreeSnapshot{}, errors.New("saving tree snapshot failed").
			WithType(ErrTypeStorage).
			WithTag("tree_id", id).
			Wrap(err)
	}

	instrumentSnapshotSize(tree.Dims, len(data))
	logs.WithTag("tree_id", id).
		WithTag("bytes", len(data)).
		Debug("tree saved")
	return snapshot, nil
}

// Restore loads every persisted tree into the store. Snapshots that cannot
// be decoded are skipped with a warning. It returns the number of restored
// trees.
func (s *TreeStore) Restore(ctx context.Context) (int, error) {
	s.initOnce.Do(s.init)

	if s.Persister == nil {
		return 0, nil
	}

	snapshots, err := s.Persister.LoadAll(ctx)
	if err != nil {
		return 0, errors.New("loading tree snapshots failed").
			WithType(ErrTypeStorage).
			Wrap(err)
	}

	restored := 0
	for _, snapshot := range snapshots {
		tree, err := LoadTree(snapshot.ID, snapshot.Dims, snapshot.Data)
		if err != nil {
			logs.Warn(err)
			continue
		}
		if !snapshot.CreatedAt.IsZero() {
			tree.CreatedAt = snapshot.CreatedAt
		}

		s.add(tree)
		restored++
	}
	return restored, nil
}
