package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Codes expire quickly; the verified marker lives long enough to
	// finish the registration form.
	OtpCodeTimeout     = 5 * time.Minute
	OtpVerifiedTimeout = 15 * time.Minute
)

// Should be safe to use in concurrency
type OtpStore interface {
	// Store the code for the given phone number, replacing any earlier
	// code for that number.
	StoreCode(phone string, code string) error

	// Check the code for the phone number. A correct code is consumed so
	// it cannot be replayed. Returns false for wrong, expired or missing
	// codes without distinguishing them.
	VerifyCode(phone string, code string) (bool, error)

	// Mark the phone number as verified for OtpVerifiedTimeout.
	MarkVerified(phone string) error

	// IsVerified reports whether the phone number was recently verified.
	IsVerified(phone string) (bool, error)

	// Drop the verified marker, typically after it was used.
	ClearVerified(phone string) error
}

// ------------------------------------------------------------------------------

type InMemoryOtpStore struct {
	mutex    sync.Mutex
	codes    map[string]timedValue
	verified map[string]time.Time
	now      func() time.Time
}

type timedValue struct {
	value   string
	expires time.Time
}

func NewInMemoryOtpStore() *InMemoryOtpStore {
	return &InMemoryOtpStore{
		codes:    make(map[string]timedValue),
		verified: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (s *InMemoryOtpStore) StoreCode(phone string, code string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.codes[phone] = timedValue{value: code, expires: s.now().Add(OtpCodeTimeout)}
	return nil
}

func (s *InMemoryOtpStore) VerifyCode(phone string, code string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, ok := s.codes[phone]
	if !ok || s.now().After(entry.expires) {
		delete(s.codes, phone)
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(entry.value), []byte(code)) != 1 {
		return false, nil
	}
	delete(s.codes, phone)
	return true, nil
}

func (s *InMemoryOtpStore) MarkVerified(phone string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.verified[phone] = s.now().Add(OtpVerifiedTimeout)
	return nil
}

func (s *InMemoryOtpStore) IsVerified(phone string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	expires, ok := s.verified[phone]
	if !ok || s.now().After(expires) {
		delete(s.verified, phone)
		return false, nil
	}
	return true, nil
}

func (s *InMemoryOtpStore) ClearVerified(phone string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.verified, phone)
	return nil
}

// ------------------------------------------------------------------------------

type RedisOtpStore struct {
	client    *redis.Client
	namespace string
}

func NewRedisOtpStore(client *redis.Client, namespace string) *RedisOtpStore {
	return &RedisOtpStore{client: client, namespace: namespace}
}

func (s *RedisOtpStore) codeKey(phone string) string {
	return fmt.Sprintf("%s:otp:code:%s", s.namespace, phone)
}

func (s *RedisOtpStore) verifiedKey(phone string) string {
	return fmt.Sprintf("%s:otp:verified:%s", s.namespace, phone)
}

func (s *RedisOtpStore) StoreCode(phone string, code string) error {
	ctx := context.Background()
	return s.client.Set(ctx, s.codeKey(phone), code, OtpCodeTimeout).Err()
}

func (s *RedisOtpStore) VerifyCode(phone string, code string) (bool, error) {
	ctx := context.Background()
	stored, err := s.client.Get(ctx, s.codeKey(phone)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return false, nil
	}
	return true, s.client.Del(ctx, s.codeKey(phone)).Err()
}

func (s *RedisOtpStore) MarkVerified(phone string) error {
	ctx := context.Background()
	return s.client.Set(ctx, s.verifiedKey(phone), "1", OtpVerifiedTimeout).Err()
}

func (s *RedisOtpStore) IsVerified(phone string) (bool, error) {
	ctx := context.Background()
	_, err := s.client.Get(ctx, s.verifiedKey(phone)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisOtpStore) ClearVerified(phone string) error {
	ctx := context.Background()
	return s.client.Del(ctx, s.verifiedKey(phone)).Err()
}
