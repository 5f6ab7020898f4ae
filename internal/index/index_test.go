package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rec struct {
	id        string
	n         int
	countries []string
}

func byID(r rec) string { return r.id }

func TestNew_LastWins(t *testing.T) {
	idx := New([]rec{{id: "a", n: 1}, {id: "b", n: 2}, {id: "a", n: 3}}, byID)

	v, ok := idx.Get("a")
	require.True(t, ok)
	assert.Equal(t, 3, v.n)
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, []string{"a", "b"}, idx.Keys())

	_, ok = idx.Get("zzz")
	assert.False(t, ok)
}

func TestNewFirst_FirstWins(t *testing.T) {
	idx := NewFirst([]rec{{id: "a", n: 1}, {id: "a", n: 3}}, byID)
	v, ok := idx.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v.n)
}

func TestFilter_SourceOrder(t *testing.T) {
	idx := New([]rec{{id: "x", n: 5}, {id: "y", n: 1}, {id: "z", n: 7}}, byID)
	got := idx.Filter(func(r rec) bool { return r.n > 2 })
	require.Len(t, got, 2)
	assert.Equal(t, "x", got[0].id)
	assert.Equal(t, "z", got[1].id)
}

func TestMulti(t *testing.T) {
	recs := []rec{
		{id: "EUR", countries: []string{"FR", "DE", "FR"}},
		{id: "EU", countries: []string{"FR"}},
		{id: "AMER", countries: []string{"US"}},
	}
	m := NewMulti(recs, func(r rec) []string { return r.countries })

	fr := m.Get("FR")
	require.Len(t, fr, 2)
	assert.Equal(t, "EUR", fr[0].id)
	assert.Equal(t, "EU", fr[1].id)
	assert.Len(t, m.Get("US"), 1)
	assert.Nil(t, m.Get("JP"))
	assert.Equal(t, 3, m.Len())
}

func TestNew_Empty(t *testing.T) {
	idx := New[string, rec](nil, byID)
	assert.Equal(t, 0, idx.Len())
	assert.Nil(t, idx.Filter(func(rec) bool { return true }))
}
