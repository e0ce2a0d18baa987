package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sncloud "github.com/notewell/sncloud-go"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()

	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return j
}

func TestRecordUpload_RoundTrip(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordUpload(ctx, sncloud.UploadResult{
		Success:   true,
		FilePath:  "/tmp/a.pdf",
		CloudPath: "/Inbox",
		FileName:  "a.pdf",
	}))
	require.NoError(t, j.RecordUpload(ctx, sncloud.UploadResult{
		Success:   false,
		FilePath:  "/tmp/b.pdf",
		CloudPath: "/Inbox",
		FileName:  "b.pdf",
		Error:     "file not found: /tmp/b.pdf",
	}))

	records, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first.
	assert.Equal(t, "b.pdf", records[0].FileName)
	assert.False(t, records[0].Success)
	assert.Contains(t, records[0].Error, "not found")

	assert.Equal(t, "a.pdf", records[1].FileName)
	assert.True(t, records[1].Success)
	assert.Empty(t, records[1].Error)

	for _, rec := range records {
		assert.NotEmpty(t, rec.ID)
		assert.WithinDuration(t, time.Now().UTC(), rec.CreatedAt, time.Minute)
	}
}

func TestRecent_Limit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for range 5 {
		require.NoError(t, j.RecordUpload(ctx, sncloud.UploadResult{Success: true, FileName: "f.pdf"}))
	}

	records, err := j.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestRecent_Empty(t *testing.T) {
	j := openTestJournal(t)

	records, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, j.RecordUpload(context.Background(), sncloud.UploadResult{Success: true, FileName: "a.pdf"}))
	require.NoError(t, j.Close())

	// Reopening must find the schema already migrated and the data intact.
	j, err = Open(path, nil)
	require.NoError(t, err)
	defer j.Close()

	records, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a.pdf", records[0].FileName)
}
