package sentences_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/pronunciation-service/internal/core"
	"github.com/book-expert/pronunciation-service/internal/sentences"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dataset = `id,order,level,sentence,syll_ltrs,syll_phns,fst
3,2,beginner,감사합니다,감_사_합_니_다,g a m_s a_h a p_n i_d a,FST-3
1,1,beginner,안녕하세요,안_녕_하_세_요,a n_n jv ng_h a_s e_j o,FST-1
2,1,beginner,"만나서  반갑습니다",만_나_서_반_갑_습_니_다,m a n_n a_s v_b a n,FST-2
x,4,beginner,잘못된 행,a,b,c
5,5,advanced,,a,b,c
6,6,advanced,"unterminated,a,b
`

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "sentences-test.log")
	require.NoError(t, err)

	return log
}

func writeDataset(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sentences.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestParse_SortsAndSkipsBadRows(t *testing.T) {
	t.Parallel()

	entries, skipped, err := sentences.Parse(strings.NewReader(dataset), newTestLogger(t))
	require.NoError(t, err)

	require.Len(t, entries, 3)
	assert.GreaterOrEqual(t, skipped, 2)

	assert.Equal(t, []int{1, 2, 3}, []int{entries[0].ID, entries[1].ID, entries[2].ID})
	assert.Equal(t, "만나서 반갑습니다", entries[1].Text, "sentence text is normalized on load")
	assert.Equal(t, sentences.DefaultSource, entries[0].Source)
	assert.Equal(t, "FST-1", entries[0].ModelBlob)
}

func TestParse_MissingColumn(t *testing.T) {
	t.Parallel()

	_, _, err := sentences.Parse(strings.NewReader("id,sentence\n1,가\n"), nil)
	require.ErrorIs(t, err, sentences.ErrMissingColumn)
}

func TestParse_ColumnOrderIsFree(t *testing.T) {
	t.Parallel()

	body := "fst,sentence,order,id,syll_phns,syll_ltrs,source\nBLOB,가나,1,9,g a_n a,가_나,curated\n"

	entries, skipped, err := sentences.Parse(strings.NewReader(body), nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Zero(t, skipped)
	assert.Equal(t, core.PrecomputedSentence{
		ID: 9, Order: 1, Text: "가나", SyllableLetters: "가_나", SyllablePhonemes: "g a_n a",
		ModelBlob: "BLOB", Source: "curated",
	}, entries[0])
}

func TestCache_Lookup(t *testing.T) {
	t.Parallel()

	cache := sentences.NewCache(writeDataset(t, dataset), newTestLogger(t))
	require.NoError(t, cache.EnsureLoaded())

	entry, ok := cache.Lookup("안녕하세요")
	require.True(t, ok)
	assert.Equal(t, 1, entry.ID)

	entry, ok = cache.Lookup("만나서 반갑습니다 ")
	require.True(t, ok, "lookup normalizes its key")
	assert.Equal(t, 2, entry.ID)

	_, ok = cache.Lookup("안녕히 가세요")
	assert.False(t, ok)

	assert.Equal(t, 3, cache.Len())
}

func TestCache_ListReturnsCopy(t *testing.T) {
	t.Parallel()

	cache := sentences.NewCache(writeDataset(t, dataset), newTestLogger(t))

	listed := cache.List()
	require.Len(t, listed, 3)
	listed[0].Text = "changed"

	entry, ok := cache.Lookup("안녕하세요")
	require.True(t, ok)
	assert.Equal(t, "안녕하세요", entry.Text)
	assert.Equal(t, "안녕하세요", cache.List()[0].Text)
}

func TestCache_MissingDatasetBehavesEmpty(t *testing.T) {
	t.Parallel()

	cache := sentences.NewCache(filepath.Join(t.TempDir(), "absent.csv"), newTestLogger(t))

	require.Error(t, cache.EnsureLoaded())

	_, ok := cache.Lookup("안녕하세요")
	assert.False(t, ok)
	assert.Empty(t, cache.List())
	assert.Zero(t, cache.Len())
}

func TestCache_LoadsOnceUnderConcurrency(t *testing.T) {
	t.Parallel()

	path := writeDataset(t, dataset)
	cache := sentences.NewCache(path, newTestLogger(t))

	var waitGroup sync.WaitGroup

	for range 32 {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			_, ok := cache.Lookup("감사합니다")
			assert.True(t, ok)
		}()
	}

	waitGroup.Wait()

	// The dataset is never re-read, so removing it changes nothing.
	require.NoError(t, os.Remove(path))

	_, ok := cache.Lookup("감사합니다")
	assert.True(t, ok)
}

func TestCache_DuplicateKeepsFirstInOrder(t *testing.T) {
	t.Parallel()

	body := "id,order,sentence,syll_ltrs,syll_phns,fst\n7,2,가,a,b,LATE\n4,1,가,a,b,EARLY\n"

	cache := sentences.NewCache(writeDataset(t, body), newTestLogger(t))

	entry, ok := cache.Lookup("가")
	require.True(t, ok)
	assert.Equal(t, "EARLY", entry.ModelBlob)
	assert.Len(t, cache.List(), 2)
}

func TestWriteCSV_ReadBack(t *testing.T) {
	t.Parallel()

	written := []core.PrecomputedSentence{
		{ID: 1, Order: 1, Level: "beginner", Text: "안녕, 하세요", SyllableLetters: "a", SyllablePhonemes: "b", ModelBlob: "c"},
	}

	var buf bytes.Buffer
	require.NoError(t, sentences.WriteCSV(&buf, written))

	entries, skipped, err := sentences.Parse(&buf, nil)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, entries, 1)
	assert.Equal(t, "안녕, 하세요", entries[0].Text)
	assert.Equal(t, sentences.DefaultSource, entries[0].Source)
}

func TestWriteCSV_ReadBackKeepsArtifactsVerbatim(t *testing.T) {
	t.Parallel()

	written := []core.PrecomputedSentence{{
		ID:               7,
		Order:            3,
		Level:            "beginner",
		Text:             "안녕",
		SyllableLetters:  " 안_녕",
		SyllablePhonemes: "a n_n jv ng ",
		ModelBlob:        "0\t1\tan\tan\n1\t2\tnyeong\tnyeong\n2\n",
	}}

	var buf bytes.Buffer
	require.NoError(t, sentences.WriteCSV(&buf, written))

	entries, skipped, err := sentences.Parse(&buf, nil)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, entries, 1)
	assert.Equal(t, written[0].SyllableLetters, entries[0].SyllableLetters)
	assert.Equal(t, written[0].SyllablePhonemes, entries[0].SyllablePhonemes)
	assert.Equal(t, written[0].ModelBlob, entries[0].ModelBlob)
}

func TestParse_TrimsDescriptiveColumns(t *testing.T) {
	t.Parallel()

	const padded = "id,order,level,sentence,syll_ltrs,syll_phns,fst\n" +
		" 4 , 2 , intermediate ,안녕하세요,a,b,c\n"

	entries, skipped, err := sentences.Parse(strings.NewReader(padded), nil)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, entries, 1)
	assert.Equal(t, 4, entries[0].ID)
	assert.Equal(t, 2, entries[0].Order)
	assert.Equal(t, "intermediate", entries[0].Level)
}
