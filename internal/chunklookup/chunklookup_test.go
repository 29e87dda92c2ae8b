package chunklookup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/groundwork-rag/groundwork/internal/domain"
)

func TestTable_GetExactSeq(t *testing.T) {
	tbl := NewTable(map[string][]*domain.Chunk{
		"h1": {
			{MirrorHash: "h1", Seq: 1, Text: "first"},
			{MirrorHash: "h1", Seq: 2, Text: "second"},
		},
	})

	c, ok := tbl.Get("h1", 2)
	assert.True(t, ok)
	assert.Equal(t, "second", c.Text)
}

func TestTable_FallsBackToFirstChunkForPlaceholderSeqZero(t *testing.T) {
	tbl := NewTable(map[string][]*domain.Chunk{
		"h1": {
			{MirrorHash: "h1", Seq: 1, Text: "first"},
			{MirrorHash: "h1", Seq: 2, Text: "second"},
		},
	})

	c, ok := tbl.Get("h1", 0)
	assert.True(t, ok)
	assert.Equal(t, "first", c.Text)
}

func TestTable_MissingHashReturnsFalse(t *testing.T) {
	tbl := NewTable(map[string][]*domain.Chunk{})
	_, ok := tbl.Get("missing", 0)
	assert.False(t, ok)
}

func TestTable_SeqZeroThatActuallyExistsIsNotOverridden(t *testing.T) {
	tbl := NewTable(map[string][]*domain.Chunk{
		"h1": {{MirrorHash: "h1", Seq: 0, Text: "real seq zero"}},
	})
	c, ok := tbl.Get("h1", 0)
	assert.True(t, ok)
	assert.Equal(t, "real seq zero", c.Text)
}
