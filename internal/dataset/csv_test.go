package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `conversation
"Doctor: What brings you in?
Patient: Headache for three days."
Doctor: Any fever? Patient: No.
Doctor: How is the cough? Patient: Worse at night.
Doctor: Sleeping well? Patient: Not really.
Doctor: Any allergies? Patient: Penicillin.
`

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conversations.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.csv"))
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestPage_FileRemovedAfterOpen(t *testing.T) {
	path := writeSample(t, sample)
	src, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	_, _, err = src.Page(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ErrUnreadable)
	_, err = src.Total(context.Background())
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestPage_MalformedCSV(t *testing.T) {
	src, err := Open(writeSample(t, "conversation\n\"never closed\n"))
	require.NoError(t, err)

	_, _, err = src.Page(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ErrUnreadable)
	assert.NotErrorIs(t, err, ErrInvalidPage)
}

func TestTotal_CountsRecordsNotLines(t *testing.T) {
	src, err := Open(writeSample(t, sample))
	require.NoError(t, err)

	total, err := src.Total(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

func TestTotal_EmptyFile(t *testing.T) {
	src, err := Open(writeSample(t, ""))
	require.NoError(t, err)

	total, err := src.Total(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestPage(t *testing.T) {
	src, err := Open(writeSample(t, sample))
	require.NoError(t, err)
	ctx := context.Background()

	header, rows, err := src.Page(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"conversation"}, header)
	require.Len(t, rows, 2)
	assert.Equal(t, "Doctor: What brings you in?\nPatient: Headache for three days.", rows[0][0])
	assert.Equal(t, "Doctor: Any fever? Patient: No.", rows[1][0])

	_, rows, err = src.Page(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Doctor: Any allergies? Patient: Penicillin.", rows[0][0])

	_, rows, err = src.Page(ctx, 4, 2)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPage_Invalid(t *testing.T) {
	src, err := Open(writeSample(t, sample))
	require.NoError(t, err)

	_, _, err = src.Page(context.Background(), 0, 10)
	assert.ErrorIs(t, err, ErrInvalidPage)
	_, _, err = src.Page(context.Background(), 1, 0)
	assert.ErrorIs(t, err, ErrInvalidPage)
}

func TestPage_CancelledContext(t *testing.T) {
	src, err := Open(writeSample(t, sample))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = src.Page(ctx, 1, 2)
	assert.ErrorIs(t, err, context.Canceled)
}
