package corpus

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productPolicy = `# Returns & Policy

Unopened Beverages can be returned within 14 days.

ok

Perishables (Produce, Seafood) must be returned within 3-7 days.

Condiments and Confections have a 30 day return window.`

const kpiDefinitions = `# KPI Definitions

Average Order Value (AOV) = SUM(UnitPrice * Quantity * (1 - Discount)) / COUNT(DISTINCT OrderID).

Gross Margin = SUM((UnitPrice - CostOfGoods) * Quantity * (1 - Discount)).`

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"product_policy.md":  {Data: []byte(productPolicy)},
		"kpi_definitions.md": {Data: []byte(kpiDefinitions)},
		"notes.json":         {Data: []byte(`{"ignored": true}`)},
		"sub/nested.md":      {Data: []byte("Nested documents are not loaded at all.")},
	}
}

func TestCopilot_Corpus_SplitParagraphs(t *testing.T) {
	t.Parallel()

	chunks := SplitParagraphs(Document{ID: "product_policy", Text: productPolicy})
	require.Len(t, chunks, 4)
	assert.Equal(t, "product_policy::chunk0", chunks[0].ID())
	assert.Equal(t, "# Returns & Policy", chunks[0].Text)
	assert.Equal(t, 1, chunks[1].Index)
	assert.Equal(t, "Unopened Beverages can be returned within 14 days.", chunks[1].Text)
	// The short "ok" paragraph is skipped without consuming an index.
	assert.Equal(t, "product_policy::chunk2", chunks[2].ID())
	assert.True(t, strings.HasPrefix(chunks[2].Text, "Perishables"))

	assert.Empty(t, SplitParagraphs(Document{ID: "empty", Text: "\n\n  \n"}))
	assert.Equal(t, "kpi_definitions", DocumentID("docs/kpi_definitions.md"))
}

func TestCopilot_Corpus_DirSource(t *testing.T) {
	t.Parallel()

	docs, err := (&DirSource{FS: testFS()}).Documents(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "kpi_definitions", docs[0].ID)
	assert.Equal(t, "product_policy", docs[1].ID)
}

type fakeS3 struct {
	objects map[string]string
	listErr error
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
		}
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestCopilot_Corpus_S3Source(t *testing.T) {
	t.Parallel()

	client := &fakeS3{objects: map[string]string{
		"docs/product_policy.md":  productPolicy,
		"docs/kpi_definitions.md": kpiDefinitions,
		"docs/archive/old.md":     "Archived documents are skipped.",
		"docs/readme.pdf":         "binary",
		"other/marketing.md":      "Not under the prefix.",
	}}

	src := &S3Source{Client: client, Bucket: "corpus", Prefix: "docs/"}
	docs, err := src.Documents(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "kpi_definitions", docs[0].ID)
	assert.Equal(t, productPolicy, docs[1].Text)

	client.listErr = errors.New("AccessDenied")
	_, err = src.Documents(context.Background())
	require.ErrorContains(t, err, "AccessDenied")
}

func TestCopilot_Corpus_ParseS3URI(t *testing.T) {
	t.Parallel()

	bucket, prefix, err := ParseS3URI("s3://corpus/docs")
	require.NoError(t, err)
	assert.Equal(t, "corpus", bucket)
	assert.Equal(t, "docs/", prefix)

	bucket, prefix, err = ParseS3URI("s3://corpus")
	require.NoError(t, err)
	assert.Equal(t, "corpus", bucket)
	assert.Equal(t, "", prefix)

	_, _, err = ParseS3URI("s3:///docs")
	require.Error(t, err)
	_, _, err = ParseS3URI("/tmp/docs")
	require.Error(t, err)
}

func TestCopilot_Corpus_S3ConfigFromEnv(t *testing.T) {
	t.Setenv("S3_ACCESS_KEY_ID", "")
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("S3_SECRET_ACCESS_KEY", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")
	t.Setenv("S3_REGION", "")
	t.Setenv("AWS_REGION", "")
	t.Setenv("S3_ENDPOINT", "localhost:9000")

	cfg, err := S3ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, "localhost:9000", cfg.Endpoint)

	t.Setenv("AWS_ACCESS_KEY_ID", "minio")
	_, err = S3ConfigFromEnv()
	require.Error(t, err)

	t.Setenv("S3_SECRET_ACCESS_KEY", "minio123")
	cfg, err = S3ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "minio", cfg.AccessKeyID)
}

func testChunks(t *testing.T) []Chunk {
	t.Helper()
	docs, err := (&DirSource{FS: testFS()}).Documents(context.Background())
	require.NoError(t, err)
	return ChunkAll(docs)
}

func TestCopilot_Corpus_TFIDFIndex(t *testing.T) {
	t.Parallel()

	idx := NewTFIDFIndex(testChunks(t))

	t.Run("ranks the matching paragraph first", func(t *testing.T) {
		t.Parallel()
		got, err := idx.Search(context.Background(), "return window for unopened beverages", 3)
		require.NoError(t, err)
		require.NotEmpty(t, got)
		assert.Equal(t, "product_policy::chunk1", got[0].ID())
		for i := 1; i < len(got); i++ {
			assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
		}
		for _, c := range got {
			assert.Greater(t, c.Score, 0.0)
			assert.LessOrEqual(t, c.Score, 1.0+1e-9)
		}
	})

	t.Run("truncates to k", func(t *testing.T) {
		t.Parallel()
		got, err := idx.Search(context.Background(), "returned within days", 1)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("no overlap", func(t *testing.T) {
		t.Parallel()
		got, err := idx.Search(context.Background(), "zebra xylophone", 5)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()
		a, err := idx.Search(context.Background(), "average order value", 5)
		require.NoError(t, err)
		b, err := idx.Search(context.Background(), "average order value", 5)
		require.NoError(t, err)
		assert.Equal(t, a, b)
		require.NotEmpty(t, a)
		assert.Equal(t, "kpi_definitions::chunk1", a[0].ID())
	})
}

func TestCopilot_Corpus_TFIDFIndex_IdenticalChunksTie(t *testing.T) {
	t.Parallel()

	text := "Seasonal campaign discounts apply to beverages, condiments and dairy products during summer."
	idx := NewTFIDFIndex([]Chunk{
		{DocID: "calendar", Index: 0, Text: text},
		{DocID: "calendar", Index: 1, Text: text},
		{DocID: "policy", Index: 0, Text: "Unopened items may be returned within thirty days."},
		{DocID: "kpi", Index: 0, Text: "Gross margin is revenue minus cost of goods."},
	})

	first, err := idx.Search(context.Background(), "summer campaign discounts on dairy beverages", 4)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "calendar::chunk0", first[0].ID())
	assert.Equal(t, "calendar::chunk1", first[1].ID())
	assert.Equal(t, first[0].Score, first[1].Score)

	for range 250 {
		got, err := idx.Search(context.Background(), "summer campaign discounts on dairy beverages", 4)
		require.NoError(t, err)
		require.Equal(t, first, got)
	}
}

func TestCopilot_Corpus_BleveIndex(t *testing.T) {
	t.Parallel()

	idx, err := NewBleveIndex(testChunks(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	got, err := idx.Search(context.Background(), "unopened beverages", 3)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "product_policy::chunk1", got[0].ID())
	for _, c := range got {
		assert.Greater(t, c.Score, 0.0)
		assert.Less(t, c.Score, 1.0)
	}

	again, err := idx.Search(context.Background(), "unopened beverages", 3)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	empty, err := idx.Search(context.Background(), "   ", 3)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCopilot_Corpus_Load(t *testing.T) {
	t.Parallel()

	c, err := Load(context.Background(), nil, &DirSource{FS: testFS()}, IndexTFIDF)
	require.NoError(t, err)
	assert.Len(t, c.Chunks, 7)
	assert.IsType(t, &TFIDFIndex{}, c.Searcher)

	_, err = Load(context.Background(), nil, &DirSource{FS: fstest.MapFS{}}, IndexTFIDF)
	require.ErrorIs(t, err, ErrEmptyCorpus)

	_, err = Load(context.Background(), nil, &DirSource{FS: testFS()}, "faiss")
	require.Error(t, err)
}
