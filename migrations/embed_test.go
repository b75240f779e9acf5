package migrations

import (
	"io"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFS_VersionsArePaired(t *testing.T) {
	src, err := iofs.New(FS, ".")
	require.NoError(t, err)
	defer src.Close()

	version, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	for {
		up, _, err := src.ReadUp(version)
		require.NoError(t, err, "version %d has no up migration", version)
		body, err := io.ReadAll(up)
		require.NoError(t, err)
		_ = up.Close()
		assert.NotEmpty(t, body)

		down, _, err := src.ReadDown(version)
		require.NoError(t, err, "version %d has no down migration", version)
		_ = down.Close()

		next, err := src.Next(version)
		if err != nil {
			break
		}
		version = next
	}
}

func TestFS_CreatesSubscriberUsage(t *testing.T) {
	body, err := FS.ReadFile("000001_create_subscriber_usage.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS subscriber_usage")
	assert.Contains(t, string(body), "cycle_started_at")
}
