package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestJournal(t *testing.T, path string) *Journal {
	t.Helper()

	j, err := Open(path)
	require.NoError(t, err)
	j.now = func() time.Time { return testTime }

	return j
}

func TestPathFor(t *testing.T) {
	require.Equal(t, "state.json.history.db", PathFor("state.json"))
}

func TestRecordOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	j := openTestJournal(t, path)

	// Txids are inserted out of byte order to check that the journal
	// keeps insertion order.
	for _, b := range []byte{3, 1, 2} {
		_, err := j.Record(Entry{
			TxID: chainhash.Hash{b}, Hex: "00", Fee: int64(b),
		})
		require.NoError(t, err)
	}

	entries, err := j.List()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, b := range []byte{3, 1, 2} {
		require.Equal(t, uint64(i+1), entries[i].Seq)
		require.Equal(t, chainhash.Hash{b}, entries[i].TxID)
		require.Equal(t, StatusBuilt, entries[i].Status)
		require.True(t, testTime.Equal(entries[i].Recorded))
	}

	// Recording again refreshes the entry in place.
	again, err := j.Record(Entry{TxID: chainhash.Hash{3}, Fee: 99})
	require.NoError(t, err)
	require.Equal(t, uint64(1), again.Seq)

	entries, err = j.List()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, int64(99), entries[0].Fee)

	// Entries survive reopening.
	require.NoError(t, j.Close())
	j = openTestJournal(t, path)
	defer func() {
		require.NoError(t, j.Close())
	}()

	entries, err = j.List()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, chainhash.Hash{2}, entries[2].TxID)
}

func TestMarkFinal(t *testing.T) {
	j := openTestJournal(t, filepath.Join(t.TempDir(), "history.db"))
	defer func() {
		require.NoError(t, j.Close())
	}()

	_, err := j.Get(chainhash.Hash{1})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = j.Record(Entry{TxID: chainhash.Hash{1}, Hex: "0102"})
	require.NoError(t, err)

	final, err := j.MarkFinal(chainhash.Hash{1})
	require.NoError(t, err)
	require.Equal(t, StatusFinalized, final.Status)
	require.Equal(t, "0102", final.Hex)
	require.Equal(t, uint64(1), final.Seq)

	// A rebuild doesn't undo the finalization.
	_, err = j.Record(Entry{TxID: chainhash.Hash{1}, Hex: "0102"})
	require.NoError(t, err)
	entry, err := j.Get(chainhash.Hash{1})
	require.NoError(t, err)
	require.Equal(t, StatusFinalized, entry.Status)
	require.True(t, testTime.Equal(entry.Finalized))

	// Finalizing an unknown transaction creates an entry.
	unknown, err := j.MarkFinal(chainhash.Hash{2})
	require.NoError(t, err)
	require.Equal(t, uint64(2), unknown.Seq)
	require.Empty(t, unknown.Hex)

	entries, err := j.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
