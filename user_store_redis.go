package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/models"
)

// RedisUserStore keeps each user as a JSON blob plus email and phone index
// keys, and the access logs in a list. Records have no TTL.
type RedisUserStore struct {
	client    *redis.Client
	namespace string
}

func NewRedisUserStore(client *redis.Client, namespace string) *RedisUserStore {
	return &RedisUserStore{client: client, namespace: namespace}
}

func (s *RedisUserStore) userKey(id string) string {
	return fmt.Sprintf("%s:user:%s", s.namespace, id)
}

func (s *RedisUserStore) emailKey(email string) string {
	return fmt.Sprintf("%s:user-email:%s", s.namespace, email)
}

func (s *RedisUserStore) phoneKey(phone string) string {
	return fmt.Sprintf("%s:user-phone:%s", s.namespace, phone)
}

func (s *RedisUserStore) idsKey() string {
	return fmt.Sprintf("%s:user-ids", s.namespace)
}

func (s *RedisUserStore) lockerSeqKey() string {
	return fmt.Sprintf("%s:locker-seq", s.namespace)
}

func (s *RedisUserStore) logsKey() string {
	return fmt.Sprintf("%s:access-logs", s.namespace)
}

func (s *RedisUserStore) CreateUser(rec *UserRecord) error {
	ctx := context.Background()

	// claim the indexes first so duplicates fail before the blob is written
	claimed, err := s.client.SetNX(ctx, s.emailKey(rec.Email), rec.Id, 0).Result()
	if err != nil {
		return err
	}
	if !claimed {
		return ErrDuplicateUser
	}
	claimed, err = s.client.SetNX(ctx, s.phoneKey(rec.PhoneNumber), rec.Id, 0).Result()
	if err != nil {
		return err
	}
	if !claimed {
		if delErr := s.client.Del(ctx, s.emailKey(rec.Email)).Err(); delErr != nil {
			return delErr
		}
		return ErrDuplicateUser
	}

	if err := s.writeRecord(ctx, rec); err != nil {
		return err
	}
	return s.client.SAdd(ctx, s.idsKey(), rec.Id).Err()
}

func (s *RedisUserStore) writeRecord(ctx context.Context, rec *UserRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal user record: %w", err)
	}
	return s.client.Set(ctx, s.userKey(rec.Id), payload, 0).Err()
}

func (s *RedisUserStore) readRecord(ctx context.Context, id string) (*UserRecord, error) {
	payload, err := s.client.Get(ctx, s.userKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec UserRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal user record: %w", err)
	}
	return &rec, nil
}

func (s *RedisUserStore) GetById(id string) (*UserRecord, error) {
	return s.readRecord(context.Background(), id)
}

func (s *RedisUserStore) getByIndex(key string) (*UserRecord, error) {
	ctx := context.Background()
	id, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.readRecord(ctx, id)
}

func (s *RedisUserStore) GetByEmail(email string) (*UserRecord, error) {
	return s.getByIndex(s.emailKey(email))
}

func (s *RedisUserStore) GetByPhone(phone string) (*UserRecord, error) {
	return s.getByIndex(s.phoneKey(phone))
}

func (s *RedisUserStore) ListByStatus(status models.UserStatus) ([]*UserRecord, error) {
	ctx := context.Background()
	ids, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, err
	}

	var result []*UserRecord
	for _, id := range ids {
		rec, err := s.readRecord(ctx, id)
		if err == ErrUserNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.Status == status {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *RedisUserStore) UpdateUser(rec *UserRecord) error {
	ctx := context.Background()
	exists, err := s.client.Exists(ctx, s.userKey(rec.Id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrUserNotFound
	}
	return s.writeRecord(ctx, rec)
}

func (s *RedisUserStore) CountByStatus(status models.UserStatus) (int, error) {
	users, err := s.ListByStatus(status)
	if err != nil {
		return 0, err
	}
	return len(users), nil
}

func (s *RedisUserStore) CountAll() (int, error) {
	count, err := s.client.SCard(context.Background(), s.idsKey()).Result()
	return int(count), err
}

func (s *RedisUserStore) NextLockerSeq() (int64, error) {
	return s.client.Incr(context.Background(), s.lockerSeqKey()).Result()
}

func (s *RedisUserStore) AppendAccessLog(log models.AccessLog) error {
	ctx := context.Background()
	payload, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshal access log: %w", err)
	}
	// newest first
	return s.client.LPush(ctx, s.logsKey(), payload).Err()
}

func (s *RedisUserStore) ListAccessLogs(skip, limit int) ([]models.AccessLog, error) {
	ctx := context.Background()
	if limit <= 0 {
		return []models.AccessLog{}, nil
	}

	entries, err := s.client.LRange(ctx, s.logsKey(), int64(skip), int64(skip+limit-1)).Result()
	if err != nil {
		return nil, err
	}

	result := make([]models.AccessLog, 0, len(entries))
	for _, entry := range entries {
		var log models.AccessLog
		if err := json.Unmarshal([]byte(entry), &log); err != nil {
			return nil, fmt.Errorf("unmarshal access log: %w", err)
		}
		result = append(result, log)
	}
	return result, nil
}
