package peers

import (
	"testing"

	"github.com/ndn-torrent/ntd/ndn"
	"github.com/stretchr/testify/require"
)

func TestTableInsertEraseFind(t *testing.T) {
	p1 := ndn.MustParseName("/peer/1")
	p2 := ndn.MustParseName("/peer/2")

	table := NewTable(p1, p2)
	require.Equal(t, 2, table.Len())

	// duplicate insert is a no-op
	table.Insert(p1)
	require.Equal(t, 2, table.Len())

	require.NotNil(t, table.Find(p1))
	require.Nil(t, table.Find(ndn.MustParseName("/peer/3")))

	require.True(t, table.Erase(p1))
	require.False(t, table.Erase(p1))
	require.Equal(t, 1, table.Len())
}

func TestTableCursorWraps(t *testing.T) {
	table := NewTable(
		ndn.MustParseName("/peer/1"),
		ndn.MustParseName("/peer/2"),
		ndn.MustParseName("/peer/3"),
	)
	require.Equal(t, "/peer/1", table.Current().Name.String())
	require.Equal(t, "/peer/2", table.Advance().Name.String())
	require.Equal(t, "/peer/3", table.Advance().Name.String())
	require.Equal(t, "/peer/1", table.Advance().Name.String())
}

func TestTableSortByMerit(t *testing.T) {
	p1 := ndn.MustParseName("/peer/1")
	p2 := ndn.MustParseName("/peer/2")
	p3 := ndn.MustParseName("/peer/3")

	table := NewTable(p1, p2, p3)
	table.Find(p2).ReceivedData = 10
	table.Find(p3).ReceivedData = 10
	table.Find(p3).SentInterests = 5
	table.Find(p1).SentInterests = 1

	table.Advance()
	table.Sort()

	// sort resets the cursor to the head
	require.Equal(t, "/peer/2", table.Current().Name.String())

	records := table.Records()
	require.Equal(t, "/peer/2", records[0].Name.String()) // most received, fewest sent
	require.Equal(t, "/peer/3", records[1].Name.String())
	require.Equal(t, "/peer/1", records[2].Name.String())
}

func TestEmptyTable(t *testing.T) {
	table := NewTable()
	require.Nil(t, table.Current())
	require.Nil(t, table.Advance())
	table.Sort()
}
