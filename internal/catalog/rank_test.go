package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func withColumns(id string, n int) Dataset {
	cols := make([]string, n)
	for i := range cols {
		cols[i] = "c"
	}
	return Dataset{ID: id, Columns: cols}
}

func TestRankByCompleteness(t *testing.T) {
	tests := []struct {
		name string
		in   []Dataset
		want []string
	}{
		{
			name: "descending by column count",
			in:   []Dataset{withColumns("a", 1), withColumns("b", 5), withColumns("c", 3)},
			want: []string{"b", "c", "a"},
		},
		{
			name: "ties keep input order",
			in:   []Dataset{withColumns("a", 2), withColumns("b", 4), withColumns("c", 2), withColumns("d", 4)},
			want: []string{"b", "d", "a", "c"},
		},
		{
			name: "datasets without columns rank last",
			in:   []Dataset{{ID: "none"}, withColumns("one", 1)},
			want: []string{"one", "none"},
		},
		{
			name: "empty",
			in:   nil,
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(RankByCompleteness(tt.in)))
		})
	}
}

func TestRankByCompleteness_IdempotentAndStable(t *testing.T) {
	in := []Dataset{
		withColumns("a", 3), withColumns("b", 3), withColumns("c", 7),
		withColumns("d", 3), withColumns("e", 0), withColumns("f", 7),
	}

	once := RankByCompleteness(in)
	twice := RankByCompleteness(once)

	assert.Equal(t, []string{"c", "f", "a", "b", "d", "e"}, ids(once))
	assert.Equal(t, ids(once), ids(twice))
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, ids(in), "input must not be reordered")
}

func TestTopN(t *testing.T) {
	in := []Dataset{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	assert.Equal(t, []string{"a", "b"}, ids(TopN(in, 2)))
	assert.Equal(t, []string{"a", "b", "c"}, ids(TopN(in, 10)))
	assert.Empty(t, TopN(in, 0))
	assert.Empty(t, TopN(in, -1))
	assert.Empty(t, TopN(nil, 3))
}
