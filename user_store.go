package main

import (
	"errors"
	"sync"

	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/models"
)

var ErrUserNotFound = errors.New("user not found")
var ErrDuplicateUser = errors.New("email or phone number already registered")

// UserRecord is the stored form of a user. The hashes and the face image
// never appear in API responses; handlers expose the embedded models.User.
type UserRecord struct {
	models.User

	PasswordHash string `json:"password_hash,omitempty"`
	PinHash      string `json:"pin_hash,omitempty"`

	// Captured at registration, used for admin review and face matching.
	FaceImage string `json:"face_image,omitempty"`
}

// Should be safe to use in concurrency
type UserStore interface {
	// Create the user. Fails with ErrDuplicateUser when the email or
	// phone number is already taken.
	CreateUser(rec *UserRecord) error

	GetById(id string) (*UserRecord, error)
	GetByEmail(email string) (*UserRecord, error)
	GetByPhone(phone string) (*UserRecord, error)

	// ListByStatus returns all users in the given status.
	ListByStatus(status models.UserStatus) ([]*UserRecord, error)

	// UpdateUser overwrites the stored record for rec.Id.
	UpdateUser(rec *UserRecord) error

	CountByStatus(status models.UserStatus) (int, error)
	CountAll() (int, error)

	// NextLockerSeq hands out monotonically increasing locker numbers.
	NextLockerSeq() (int64, error)

	AppendAccessLog(log models.AccessLog) error

	// ListAccessLogs pages through logs, most recent first.
	ListAccessLogs(skip, limit int) ([]models.AccessLog, error)
}

// ------------------------------------------------------------------------------

type InMemoryUserStore struct {
	mutex sync.Mutex

	users   map[string]*UserRecord
	byEmail map[string]string
	byPhone map[string]string

	lockerSeq int64
	logs      []models.AccessLog
}

func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{
		users:   make(map[string]*UserRecord),
		byEmail: make(map[string]string),
		byPhone: make(map[string]string),
	}
}

func copyRecord(rec *UserRecord) *UserRecord {
	clone := *rec
	clone.Nominees = append([]models.Nominee(nil), rec.Nominees...)
	if rec.Locker != nil {
		locker := *rec.Locker
		clone.Locker = &locker
	}
	return &clone
}

func (s *InMemoryUserStore) CreateUser(rec *UserRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, taken := s.byEmail[rec.Email]; taken {
		return ErrDuplicateUser
	}
	if _, taken := s.byPhone[rec.PhoneNumber]; taken {
		return ErrDuplicateUser
	}

	s.users[rec.Id] = copyRecord(rec)
	s.byEmail[rec.Email] = rec.Id
	s.byPhone[rec.PhoneNumber] = rec.Id
	return nil
}

func (s *InMemoryUserStore) GetById(id string) (*UserRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyRecord(rec), nil
}

func (s *InMemoryUserStore) GetByEmail(email string) (*UserRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyRecord(s.users[id]), nil
}

func (s *InMemoryUserStore) GetByPhone(phone string) (*UserRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id, ok := s.byPhone[phone]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyRecord(s.users[id]), nil
}

func (s *InMemoryUserStore) ListByStatus(status models.UserStatus) ([]*UserRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var result []*UserRecord
	for _, rec := range s.users {
		if rec.Status == status {
			result = append(result, copyRecord(rec))
		}
	}
	return result, nil
}

func (s *InMemoryUserStore) UpdateUser(rec *UserRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.users[rec.Id]; !ok {
		return ErrUserNotFound
	}
	s.users[rec.Id] = copyRecord(rec)
	return nil
}

func (s *InMemoryUserStore) CountByStatus(status models.UserStatus) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	count := 0
	for _, rec := range s.users {
		if rec.Status == status {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryUserStore) CountAll() (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.users), nil
}

func (s *InMemoryUserStore) NextLockerSeq() (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lockerSeq++
	return s.lockerSeq, nil
}

func (s *InMemoryUserStore) AppendAccessLog(log models.AccessLog) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

func (s *InMemoryUserStore) ListAccessLogs(skip, limit int) ([]models.AccessLog, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	result := make([]models.AccessLog, 0, limit)
	// stored oldest first, paged newest first
	for i := len(s.logs) - 1 - skip; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.logs[i])
	}
	return result, nil
}
