package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestRecordCreatesDirectoryAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "doorserver.log")
	l, err := Open(path)
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2024, 3, 9, 12, 30, 5, 250e6, time.UTC) }

	require.NoError(t, l.Record("Alice", "Legend of the Red Dragon", "LORD"))
	require.NoError(t, l.Record("Bob", "", "BRE"))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2024-03-09T12:30:05.250Z | User: Alice | Title: Legend of the Red Dragon | Code: LORD", lines[0])
	assert.Equal(t, "2024-03-09T12:30:05.250Z | User: Bob | Title: Unknown | Code: BRE", lines[1])
}

func TestRotatedSegmentsAreKept(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "doorserver.log"))
	require.NoError(t, err)
	defer l.Close()

	lj, ok := l.out.(*lumberjack.Logger)
	require.True(t, ok)
	assert.Zero(t, lj.MaxBackups, "no backup count limit")
	assert.Zero(t, lj.MaxAge, "no age limit")
}
