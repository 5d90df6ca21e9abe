package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	codeRecordVersionV1 = 1
)

var (
	ErrCodeNotFound         = errors.New("code not found")
	ErrCodeMismatch         = errors.New("code mismatch")
	ErrCodeRedisUnavailable = errors.New("code redis unavailable")
)

// CodeStore keeps at most one pending one-time code per principal. Only the
// SHA-256 digest of the code is written to Redis.
type CodeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewCodeStore(redisClient redis.UniversalClient, prefix string) *CodeStore {
	if prefix == "" {
		prefix = "gs"
	}
	return &CodeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *CodeStore) key(principalID string) string {
	return s.prefix + ":otp:" + principalID
}

// Save stores digest for principalID, replacing any earlier pending code.
func (s *CodeStore) Save(ctx context.Context, principalID string, digest [32]byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(principalID), encodeCodeRecord(digest), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeRedisUnavailable, err)
	}
	return nil
}

// Consume compares digest with the pending code and deletes it in the same
// optimistic transaction when they match. A mismatch leaves the pending code in place.
func (s *CodeStore) Consume(ctx context.Context, principalID string, digest [32]byte) error {
	const maxRetries = 4
	key := s.key(principalID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrCodeNotFound
				}
				return err
			}

			stored, err := decodeCodeRecord(data)
			if err != nil {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrCodeNotFound
			}

			if subtle.ConstantTimeCompare(stored[:], digest[:]) != 1 {
				return ErrCodeMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, ErrCodeNotFound), errors.Is(err, ErrCodeMismatch):
				return err
			default:
				return fmt.Errorf("%w: %v", ErrCodeRedisUnavailable, err)
			}
		}
		return nil
	}

	// Every attempt raced with a concurrent writer; whoever won consumed or replaced the code.
	return ErrCodeNotFound
}

// Delete removes any pending code for principalID.
func (s *CodeStore) Delete(ctx context.Context, principalID string) error {
	if err := s.redis.Del(ctx, s.key(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeRedisUnavailable, err)
	}
	return nil
}

func encodeCodeRecord(digest [32]byte) []byte {
	var buf bytes.Buffer
	buf.Grow(1 + len(digest))
	buf.WriteByte(codeRecordVersionV1)
	buf.Write(digest[:])
	return buf.Bytes()
}

func decodeCodeRecord(data []byte) ([32]byte, error) {
	var digest [32]byte
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return digest, err
	}
	if version != codeRecordVersionV1 {
		return digest, errors.New("invalid code record version")
	}
	if _, err := io.ReadFull(reader, digest[:]); err != nil {
		return digest, err
	}
	if reader.Len() != 0 {
		return digest, errors.New("trailing bytes in code record")
	}
	return digest, nil
}
