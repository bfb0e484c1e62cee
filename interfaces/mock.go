package interfaces

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockRecordStore mocks the RecordStore interface
type MockRecordStore struct {
	mock.Mock
}

// Capabilities mocks the Capabilities method
func (m *MockRecordStore) Capabilities() StoreCapabilities {
	args := m.Called()
	return args.Get(0).(StoreCapabilities)
}

// FetchRecord mocks the FetchRecord method
func (m *MockRecordStore) FetchRecord(ctx context.Context, subject SubjectID) (*CredentialRecord, error) {
	args := m.Called(ctx, subject)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CredentialRecord), args.Error(1)
}

// InsertRecord mocks the InsertRecord method
func (m *MockRecordStore) InsertRecord(ctx context.Context, record *CredentialRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// CompareAndSwapRecord mocks the CompareAndSwapRecord method
func (m *MockRecordStore) CompareAndSwapRecord(ctx context.Context, subject SubjectID, expected VersionStamp, cipherText []byte, updatedAt time.Time) (bool, error) {
	args := m.Called(ctx, subject, expected, cipherText, updatedAt)
	return args.Bool(0), args.Error(1)
}

// DeleteRecord mocks the DeleteRecord method
func (m *MockRecordStore) DeleteRecord(ctx context.Context, subject SubjectID) error {
	args := m.Called(ctx, subject)
	return args.Error(0)
}

// HasRecord mocks the HasRecord method
func (m *MockRecordStore) HasRecord(ctx context.Context, subject SubjectID) (bool, error) {
	args := m.Called(ctx, subject)
	return args.Bool(0), args.Error(1)
}

// ListRecords mocks the ListRecords method
func (m *MockRecordStore) ListRecords(ctx context.Context) ([]*CredentialRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*CredentialRecord), args.Error(1)
}

// BeginTx mocks the BeginTx method
func (m *MockRecordStore) BeginTx(ctx context.Context) (RecordTx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(RecordTx), args.Error(1)
}

// Available mocks the Available method
func (m *MockRecordStore) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

// Name mocks the Name method
func (m *MockRecordStore) Name() string {
	args := m.Called()
	return args.String(0)
}

// LocationURI mocks the LocationURI method
func (m *MockRecordStore) LocationURI() string {
	args := m.Called()
	return args.String(0)
}

// MockRecordTx mocks the RecordTx interface
type MockRecordTx struct {
	mock.Mock
}

// FetchRecord mocks the FetchRecord method
func (m *MockRecordTx) FetchRecord(ctx context.Context, subject SubjectID) (*CredentialRecord, error) {
	args := m.Called(ctx, subject)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CredentialRecord), args.Error(1)
}

// UpdateRecord mocks the UpdateRecord method
func (m *MockRecordTx) UpdateRecord(ctx context.Context, subject SubjectID, cipherText []byte, updatedAt time.Time) error {
	args := m.Called(ctx, subject, cipherText, updatedAt)
	return args.Error(0)
}

// DeleteRecord mocks the DeleteRecord method
func (m *MockRecordTx) DeleteRecord(ctx context.Context, subject SubjectID) error {
	args := m.Called(ctx, subject)
	return args.Error(0)
}

// Commit mocks the Commit method
func (m *MockRecordTx) Commit() error {
	args := m.Called()
	return args.Error(0)
}

// Rollback mocks the Rollback method
func (m *MockRecordTx) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

// MockDispatcher mocks the RotationDispatcher interface
type MockDispatcher struct {
	mock.Mock
}

// Dispatch mocks the Dispatch method
func (m *MockDispatcher) Dispatch(ctx context.Context, subject SubjectID, oldPassphrase, newPassphrase string) (string, bool) {
	args := m.Called(ctx, subject, oldPassphrase, newPassphrase)
	return args.String(0), args.Bool(1)
}
