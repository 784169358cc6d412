package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/quotafeed/internal/database"
	testingpkg "github.com/aristath/quotafeed/internal/testing"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleteErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) List(ctx context.Context, prefix string) ([]types.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Object
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, types.Object{Key: aws.String(key), Size: aws.Int64(int64(len(data)))})
		}
	}
	return out, nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func seededDatabases(t *testing.T) []*database.DB {
	t.Helper()
	quotaDB, _ := testingpkg.NewTestDB(t, database.NameQuota)
	cacheDB, _ := testingpkg.NewTestDB(t, database.NameCache)

	_, err := quotaDB.Conn().Exec(
		"INSERT INTO quota_ledger (date, requests_used, last_request_time, created_at) VALUES ('2024-03-15', 12, 0, 0)")
	require.NoError(t, err)
	return []*database.DB{quotaDB, cacheDB}
}

func fixedClock(s string) func() time.Time {
	ts, _ := time.Parse(time.RFC3339, s)
	return func() time.Time { return ts }
}

func TestCreateAndVerifyBackup(t *testing.T) {
	store := newMemoryStore()
	svc := NewBackupService(store, seededDatabases(t), t.TempDir(), zerolog.Nop(),
		WithBackupClock(fixedClock("2024-03-15T14:30:22Z")))

	name, err := svc.CreateAndUploadBackup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "quotafeed-backup-2024-03-15-143022.tar.gz", name)
	assert.Equal(t, []string{name}, store.keys())

	metadata, err := svc.VerifyBackup(context.Background(), name)
	require.NoError(t, err)
	require.Len(t, metadata.Databases, 2)
	assert.Equal(t, "quota", metadata.Databases[0].Name)
	assert.Equal(t, "cache.db", metadata.Databases[1].Filename)
	assert.True(t, strings.HasPrefix(metadata.Databases[0].Checksum, "sha256:"))
	assert.Positive(t, metadata.Databases[0].SizeBytes)
}

func TestVerifyBackup_DetectsCorruption(t *testing.T) {
	store := newMemoryStore()
	svc := NewBackupService(store, seededDatabases(t), t.TempDir(), zerolog.Nop())

	name, err := svc.CreateAndUploadBackup(context.Background())
	require.NoError(t, err)

	store.objects[name] = rewriteArchive(t, store.objects[name], "quota.db", []byte("not a database"))

	_, err = svc.VerifyBackup(context.Background(), name)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	store.objects["garbage.tar.gz"] = []byte("plain text")
	_, err = svc.VerifyBackup(context.Background(), "garbage.tar.gz")
	assert.Error(t, err)
}

// rewriteArchive replaces the content of one entry, keeping the rest (and the manifest) intact.
func rewriteArchive(t *testing.T, archive []byte, entry string, content []byte) []byte {
	t.Helper()

	gz, err := gzip.NewReader(bytes.NewReader(archive))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var out bytes.Buffer
	gw := gzip.NewWriter(&out)
	tw := tar.NewWriter(gw)

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)

		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		if header.Name == entry {
			data = content
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: header.Name, Size: int64(len(data)), Mode: 0644}))
		_, err = tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return out.Bytes()
}

func TestListBackups(t *testing.T) {
	store := newMemoryStore()
	store.objects["quotafeed-backup-2024-03-10-020000.tar.gz"] = []byte("a")
	store.objects["quotafeed-backup-2024-03-14-020000.tar.gz"] = []byte("bb")
	store.objects["quotafeed-backup-latest.tar.gz"] = []byte("c")
	store.objects["other-backup-2024-03-14-020000.tar.gz"] = []byte("d")

	svc := NewBackupService(store, nil, t.TempDir(), zerolog.Nop(),
		WithBackupClock(fixedClock("2024-03-15T02:00:00Z")))

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "quotafeed-backup-2024-03-14-020000.tar.gz", backups[0].Filename)
	assert.Equal(t, int64(24), backups[0].AgeHours)
	assert.Equal(t, int64(2), backups[0].SizeBytes)
	assert.Equal(t, int64(120), backups[1].AgeHours)
}

func TestRotateOldBackups(t *testing.T) {
	store := newMemoryStore()
	for _, stamp := range []string{
		"2024-03-14-020000", // 1 day
		"2024-03-13-020000", // 2 days
		"2024-02-04-020000", // 40 days
		"2024-01-30-020000", // 45 days
		"2024-01-25-020000", // 50 days
	} {
		store.objects["quotafeed-backup-"+stamp+".tar.gz"] = []byte("x")
	}

	svc := NewBackupService(store, nil, t.TempDir(), zerolog.Nop(),
		WithBackupClock(fixedClock("2024-03-15T02:00:00Z")))

	deleted, err := svc.RotateOldBackups(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = svc.RotateOldBackups(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, []string{
		"quotafeed-backup-2024-02-04-020000.tar.gz",
		"quotafeed-backup-2024-03-13-020000.tar.gz",
		"quotafeed-backup-2024-03-14-020000.tar.gz",
	}, store.keys())

	// the three newest survive even when all are past retention
	deleted, err = svc.RotateOldBackups(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestRotateOldBackups_DeleteFailureIsSkipped(t *testing.T) {
	store := newMemoryStore()
	for _, stamp := range []string{"2024-03-14-020000", "2024-03-13-020000", "2024-03-12-020000", "2024-01-01-020000"} {
		store.objects["quotafeed-backup-"+stamp+".tar.gz"] = []byte("x")
	}
	store.deleteErr = errors.New("forbidden")

	svc := NewBackupService(store, nil, t.TempDir(), zerolog.Nop(),
		WithBackupClock(fixedClock("2024-03-15T02:00:00Z")))

	deleted, err := svc.RotateOldBackups(context.Background(), 30)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Len(t, store.keys(), 4)
}

func TestBackupJob(t *testing.T) {
	store := newMemoryStore()
	svc := NewBackupService(store, seededDatabases(t), t.TempDir(), zerolog.Nop(), WithPrefix("test"))

	job := NewBackupJob(svc, 30, zerolog.Nop())
	assert.Equal(t, "r2_backup", job.Name())
	require.NoError(t, job.Run())

	keys := store.keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "test-backup-"))
}

func TestDailyMaintenanceJob(t *testing.T) {
	dbs := seededDatabases(t)
	job := NewDailyMaintenanceJob(t.TempDir(), zerolog.Nop(), dbs...)
	assert.Equal(t, "daily_maintenance", job.Name())

	job.diskUsage = func(string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Free: 50e9, UsedPercent: 40}, nil
	}
	assert.NoError(t, job.Run())

	job.diskUsage = func(string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Free: 100e6, UsedPercent: 99}, nil
	}
	assert.Error(t, job.Run())

	job.diskUsage = func(string) (*disk.UsageStat, error) {
		return nil, errors.New("statfs failed")
	}
	assert.Error(t, job.Run())
}

func TestWeeklyMaintenanceJob(t *testing.T) {
	job := NewWeeklyMaintenanceJob(zerolog.Nop(), seededDatabases(t)...)
	assert.Equal(t, "weekly_maintenance", job.Name())
	assert.NoError(t, job.Run())
}
