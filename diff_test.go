package routeref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffEntries(t *testing.T) {
	oldEntries := []Entry{
		MustParseEntry("eth0", "10.0.0.0/24", "192.168.1.1"),
		MustParseEntry("eth0", "default", "10.0.0.1"),
	}
	desired := []Entry{
		MustParseEntry("eth0", "10.0.0.0/24", "192.168.1.1"), // unchanged
		MustParseEntry("eth0", "192.168.2.0/24", "10.0.0.2"), // add
		MustParseEntry("eth0", "192.168.2.0/24", "10.0.0.2"), // duplicate
	}

	res, err := DiffEntries(oldEntries, desired)
	require.NoError(t, err)

	assert.Len(t, res.Unchanged, 1)
	assert.Len(t, res.ToAdd, 1)
	require.Len(t, res.ToDel, 1)
	assert.Equal(t, MustParseEntry("eth0", "default", "10.0.0.1"), res.ToDel[0])
}

func TestDiffEntriesInvalid(t *testing.T) {
	_, err := DiffEntries([]Entry{{Interface: "eth0"}}, nil)
	assert.Error(t, err)

	_, err = DiffEntries(nil, []Entry{{}})
	assert.Error(t, err)
}
