package boltdb

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

// errNoKey ключа нет в bucket'е; вызывающий переводит в свою ошибку
var errNoKey = errors.New("key not found")

func bucketOf(tx *bbolt.Tx, name []byte) (*bbolt.Bucket, error) {
	b := tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("%s bucket not found", name)
	}
	return b, nil
}

// putJSON сохраняет значение под ключом в JSON
func (s *Storage) putJSON(bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", bucket, key, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := bucketOf(tx, bucket)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// getJSON читает значение ключа в v; errNoKey если ключа нет
func (s *Storage) getJSON(bucket, key []byte, v any) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucketOf(tx, bucket)
		if err != nil {
			return err
		}

		data := b.Get(key)
		if data == nil {
			return errNoKey
		}
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to unmarshal %s/%s: %w", bucket, key, err)
		}
		return nil
	})
}

// deleteKey удаляет ключ; errNoKey если его не было
func (s *Storage) deleteKey(bucket, key []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := bucketOf(tx, bucket)
		if err != nil {
			return err
		}
		if b.Get(key) == nil {
			return errNoKey
		}
		return b.Delete(key)
	})
}
