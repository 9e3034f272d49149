package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStorage is a mock implementation of the Storage interface
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Save(ctx context.Context, key string, reader io.Reader) error {
	body, _ := io.ReadAll(reader)
	args := m.Called(ctx, key, string(body))
	return args.Error(0)
}

func (m *MockStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStorage) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	args := m.Called(ctx, prefix)
	files, _ := args.Get(0).([]FileInfo)
	return files, args.Error(1)
}

func (m *MockStorage) ValidateKey(key string) error {
	args := m.Called(key)
	return args.Error(0)
}

func setupTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func setupLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir()}, setupTestLogger())
	require.NoError(t, err)
	return s
}

func TestLocalStorageRoundTrip(t *testing.T) {
	s := setupLocal(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "reports/a.txt", strings.NewReader("hello")))

	ok, err := s.Exists(ctx, "reports/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Get(ctx, "reports/a.txt")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	require.NoError(t, s.Delete(ctx, "reports/a.txt"))
	ok, err = s.Exists(ctx, "reports/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	// Повторное удаление не является ошибкой
	assert.NoError(t, s.Delete(ctx, "reports/a.txt"))
}

func TestLocalStorageGetMissing(t *testing.T) {
	s := setupLocal(t)

	_, err := s.Get(context.Background(), "reports/none.xlsx")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorageList(t *testing.T) {
	s := setupLocal(t)
	ctx := context.Background()

	for _, key := range []string{"renders/1/a.csv", "renders/1/b.csv", "renders/2/c.csv", "reports/t.xlsx"} {
		require.NoError(t, s.Save(ctx, key, strings.NewReader(key)))
	}

	files, err := s.List(ctx, "renders/1/")
	require.NoError(t, err)

	var keys []string
	for _, f := range files {
		keys = append(keys, f.Key)
	}
	assert.ElementsMatch(t, []string{"renders/1/a.csv", "renders/1/b.csv"}, keys)
}

func TestLocalStorageValidateKey(t *testing.T) {
	s := setupLocal(t)

	assert.NoError(t, s.ValidateKey("reports/x.xlsx"))
	assert.Error(t, s.ValidateKey(""))
	assert.Error(t, s.ValidateKey("/etc/passwd"))
	assert.Error(t, s.ValidateKey("reports/../../secret"))
	assert.Error(t, s.ValidateKey(strings.Repeat("a", maxKeyLength+1)))
}

func TestNewLocalStorageRelativePath(t *testing.T) {
	chdir(t, t.TempDir())

	s, err := NewLocalStorage(LocalConfig{BasePath: "./data"}, setupTestLogger())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(s.basePath, "data"))
	assert.True(t, strings.HasPrefix(s.basePath, "/"))
}

func TestValidationMiddlewareRejectsBadKey(t *testing.T) {
	backend := new(MockStorage)
	backend.On("ValidateKey", "../x").Return(errors.New("bad"))

	s := NewValidationMiddleware(backend)
	_, err := s.Get(context.Background(), "../x")

	assert.ErrorIs(t, err, ErrInvalidKey)
	backend.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestRetryMiddlewareRetriesTransientErrors(t *testing.T) {
	backend := new(MockStorage)
	ctx := context.Background()
	backend.On("Exists", ctx, "k").Return(false, errors.New("timeout")).Once()
	backend.On("Exists", ctx, "k").Return(true, nil).Once()

	s := NewRetryMiddleware(backend, 2, time.Millisecond, setupTestLogger())
	ok, err := s.Exists(ctx, "k")

	require.NoError(t, err)
	assert.True(t, ok)
	backend.AssertNumberOfCalls(t, "Exists", 2)
}

func TestRetryMiddlewareSkipsNotFound(t *testing.T) {
	backend := new(MockStorage)
	ctx := context.Background()
	backend.On("Get", ctx, "k").Return(nil, ErrNotFound)

	s := NewRetryMiddleware(backend, 3, time.Millisecond, setupTestLogger())
	_, err := s.Get(ctx, "k")

	assert.ErrorIs(t, err, ErrNotFound)
	backend.AssertNumberOfCalls(t, "Get", 1)
}

func TestRetryMiddlewareRewindsSave(t *testing.T) {
	backend := new(MockStorage)
	ctx := context.Background()
	backend.On("Save", ctx, "k", "payload").Return(errors.New("reset")).Once()
	backend.On("Save", ctx, "k", "payload").Return(nil).Once()

	s := NewRetryMiddleware(backend, 1, time.Millisecond, setupTestLogger())
	require.NoError(t, s.Save(ctx, "k", bytes.NewReader([]byte("payload"))))
	backend.AssertNumberOfCalls(t, "Save", 2)
}

func TestWrapChain(t *testing.T) {
	s := Wrap(setupLocal(t), setupTestLogger())
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "renders/1/x.txt", strings.NewReader("x")))
	ok, err := s.Exists(ctx, "renders/1/x.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Get(ctx, "../escape")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

// chdir switches the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
