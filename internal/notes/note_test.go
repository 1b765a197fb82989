package notes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secure-notes/internal/history"
)

func TestDecodeDataByType(t *testing.T) {
	meta, err := EncodeData(&Metadata{Title: "root", Children: []string{"a", "b"}})
	require.NoError(t, err)
	d, err := DecodeData(TypeMetadata, meta)
	require.NoError(t, err)
	m, ok := d.(*Metadata)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, m.Children)

	d, err = DecodeData("attachment", []byte(`{"blob":"x"}`))
	require.NoError(t, err)
	raw, ok := d.(*Raw)
	require.True(t, ok)
	assert.Equal(t, ItemType("attachment"), raw.ItemType())
	back, err := EncodeData(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"blob":"x"}`, string(back))

	_, err = DecodeData(TypeText, []byte("{"))
	require.Error(t, err)
}

func TestHistoryItemKeepsStateShape(t *testing.T) {
	h := &History{}
	require.NoError(t, h.Add(history.Entry{Text: "v1", Timestamp: time.Unix(1, 0)}, 0))
	b, err := EncodeData(h)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"active"`)

	d, err := DecodeData(TypeHistory, b)
	require.NoError(t, err)
	assert.Equal(t, "v1", d.(*History).Active[0].Text)
}

func TestNewerThan(t *testing.T) {
	base := &Note{ID: "n", KeyName: "k", Items: []*Item{
		{Type: TypeMetadata, Version: 2},
		{Type: TypeText, Version: 5},
	}}

	same := base.Clone()
	assert.False(t, same.NewerThan(base))

	bumped := base.Clone()
	bumped.Item(TypeText).Version = 6
	assert.True(t, bumped.NewerThan(base))

	stale := base.Clone()
	stale.Item(TypeText).Version = 4
	assert.False(t, stale.NewerThan(base))

	rekeyed := base.Clone()
	rekeyed.KeyName = "k2"
	assert.True(t, rekeyed.NewerThan(base))

	cached := base.Clone()
	cached.FromCache = true
	assert.True(t, base.NewerThan(cached))
	assert.False(t, cached.NewerThan(base))

	assert.True(t, base.NewerThan(nil))
}

func TestCloneIsDeep(t *testing.T) {
	n := New("k", &Metadata{Title: "t", Children: []string{"a"}}, &Text{Body: "x"})
	c := n.Clone()
	c.Metadata().Children[0] = "z"
	c.Item(TypeText).Data.(*Text).Body = "y"
	assert.Equal(t, "a", n.Children()[0])
	assert.Equal(t, "x", n.Text())
}

func TestSetMarksDirtyAndVersionsSkipsIt(t *testing.T) {
	n := New("k", &Metadata{Title: "t"})
	n.Item(TypeMetadata).Version = 3
	n.MarkClean()
	assert.Empty(t, n.Dirty())

	n.Set(&Text{Body: "hello"})
	require.Len(t, n.Dirty(), 1)
	assert.Equal(t, map[string]int64{"metadata": 3}, n.Versions())
}

func TestChildListEditing(t *testing.T) {
	m := &Metadata{Children: []string{"a", "b", "c"}}
	require.True(t, m.RemoveChild("b"))
	assert.Equal(t, []string{"a", "c"}, m.Children)
	assert.False(t, m.RemoveChild("b"))
	m.InsertChild("x", 1)
	assert.Equal(t, []string{"a", "x", "c"}, m.Children)
	m.InsertChild("y", -1)
	assert.Equal(t, []string{"a", "x", "c", "y"}, m.Children)
	assert.True(t, m.HasChild("y"))
}
