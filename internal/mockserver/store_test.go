package mockserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/the-dev-tools/restsync/pkg/idwrap"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
	"github.com/the-dev-tools/restsync/pkg/patch"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	lite, err := NewSQLiteStore(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": lite,
	}
}

func todo(id int64, text string, seq float64) mrecord.Record {
	return mrecord.New(idwrap.NewNum(id), map[string]any{
		"todoText": text,
		"sequence": seq,
	})
}

func TestStoreCRUD(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, Seed(ctx, st, "todos", mrecord.Collection{
				todo(1, "write", 1),
				todo(2, "test", 2),
			}))

			err := st.Insert(ctx, "todos", todo(2, "again", 3))
			require.ErrorIs(t, err, ErrDuplicate)

			list, err := st.List(ctx, "todos")
			require.NoError(t, err)
			require.Len(t, list, 2)
			require.Equal(t, "1", list[0].ID.String())
			require.True(t, list[0].ID.IsNum())

			replaced := todo(1, "rewrite", 5)
			require.NoError(t, st.Replace(ctx, "todos", replaced))
			got, err := st.Get(ctx, "todos", idwrap.NewText("1"))
			require.NoError(t, err)
			require.Equal(t, "rewrite", got.Fields["todoText"])
			require.Equal(t, 5.0, got.Fields["sequence"])

			patched, err := st.Patch(ctx, "todos", patch.NewRecordPatch(idwrap.NewNum(2)).
				With("done", true).
				Without("sequence"))
			require.NoError(t, err)
			require.Equal(t, true, patched.Fields["done"])
			require.Equal(t, "test", patched.Fields["todoText"])
			require.Nil(t, patched.Fields["sequence"])

			err = st.Replace(ctx, "todos", todo(9, "ghost", 9))
			require.ErrorIs(t, err, ErrNotFound)
			_, err = st.Get(ctx, "speakers", idwrap.NewNum(1))
			require.ErrorIs(t, err, ErrNotFound)

			empty, err := st.List(ctx, "speakers")
			require.NoError(t, err)
			require.NotNil(t, empty)
			require.Empty(t, empty)
		})
	}
}

func TestStoreDeleteIsAtomic(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, Seed(ctx, st, "todos", mrecord.Collection{
				todo(1, "a", 1), todo(2, "b", 2), todo(3, "c", 3),
			}))

			err := st.Delete(ctx, "todos", []idwrap.IDWrap{idwrap.NewNum(1), idwrap.NewNum(7)})
			require.ErrorIs(t, err, ErrNotFound)
			list, err := st.List(ctx, "todos")
			require.NoError(t, err)
			require.Len(t, list, 3)

			require.NoError(t, st.Delete(ctx, "todos", []idwrap.IDWrap{idwrap.NewNum(1), idwrap.NewNum(3)}))
			list, err = st.List(ctx, "todos")
			require.NoError(t, err)
			require.Equal(t, []idwrap.IDWrap{idwrap.NewNum(2)}, list.IDs())
		})
	}
}

func TestSQLiteStoreKeepsResourcesApart(t *testing.T) {
	ctx := context.Background()
	st, err := NewSQLiteStore(ctx, "")
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Insert(ctx, "todos", todo(1, "a", 1)))
	require.NoError(t, st.Insert(ctx, "speakers", mrecord.New(idwrap.NewNum(1), map[string]any{"name": "Ada"})))

	speakers, err := st.List(ctx, "speakers")
	require.NoError(t, err)
	require.Len(t, speakers, 1)
	require.Equal(t, "Ada", speakers[0].Fields["name"])
}
