package storage

import (
	"fmt"
	"time"

	"domofon/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketDrafts = []byte("drafts")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDrafts)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertDraft stores a new or updated draft keyed by its unique triple.
func (s *BboltStorage) UpsertDraft(draft models.Draft) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDrafts)
		dbDraft := &DBDraft{
			UserID:         draft.UserID,
			ConversationID: draft.ConversationID,
			Content:        draft.Content,
			Subject:        draft.Subject,
			DraftType:      string(draft.DraftType),
			Metadata:       draft.Metadata,
			UpdatedAt:      draft.UpdatedAt,
		}

		data, err := dbDraft.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbDraft.Key(), data)
	})
}

// GetDraft returns the draft for the given triple or models.ErrNotFound.
// A missing draft is a normal outcome, not a storage failure.
func (s *BboltStorage) GetDraft(key models.DraftKey) (models.Draft, error) {
	var draft models.Draft
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDrafts)
		data := b.Get(draftKey(key.UserID, key.ConversationID, string(key.DraftType)))
		if data == nil {
			return models.ErrNotFound
		}

		var dbDraft DBDraft
		if err := dbDraft.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("failed to unmarshal draft: %w", err)
		}
		draft = dbDraftToModel(dbDraft)
		return nil
	})
	return draft, err
}

// DeleteDraft removes the draft for the given triple. Deleting an
// absent draft is not an error.
func (s *BboltStorage) DeleteDraft(key models.DraftKey) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDrafts)
		return b.Delete(draftKey(key.UserID, key.ConversationID, string(key.DraftType)))
	})
}

// ListDrafts returns all drafts stored in the database.
func (s *BboltStorage) ListDrafts() ([]models.Draft, error) {
	var drafts []models.Draft
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDrafts)
		return b.ForEach(func(k, v []byte) error {
			var dbDraft DBDraft
			if err := dbDraft.UnmarshalBinary(v); err != nil {
				return err
			}
			drafts = append(drafts, dbDraftToModel(dbDraft))
			return nil
		})
	})
	return drafts, err
}

func dbDraftToModel(d DBDraft) models.Draft {
	return models.Draft{
		UserID:         d.UserID,
		ConversationID: d.ConversationID,
		Content:        d.Content,
		Subject:        d.Subject,
		DraftType:      models.DraftType(d.DraftType),
		Metadata:       d.Metadata,
		UpdatedAt:      d.UpdatedAt,
	}
}
