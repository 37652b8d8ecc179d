package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsuchiya2/storypipe/internal/domain/entity"
	"github.com/tsuchiya2/storypipe/internal/idempotency"
	"github.com/tsuchiya2/storypipe/internal/infra/fetcher"
	"github.com/tsuchiya2/storypipe/internal/job"
	"github.com/tsuchiya2/storypipe/internal/queue"
)

type fakeFetcher struct {
	result *fetcher.Result
	err    error
	calls  int
}

func (f *fakeFetcher) Fetch(ctx context.Context, urlStr string) (*fetcher.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeArticleRepo struct {
	upserted *entity.Article
	err      error
}

func (f *fakeArticleRepo) Get(ctx context.Context, id int64) (*entity.Article, error) { return nil, nil }
func (f *fakeArticleRepo) GetByContentHash(ctx context.Context, hash string) (*entity.Article, error) {
	return nil, nil
}
func (f *fakeArticleRepo) List(ctx context.Context, limit int) ([]*entity.Article, error) {
	return nil, nil
}
func (f *fakeArticleRepo) UpsertArticleAndLinkStory(ctx context.Context, storyID string, article *entity.Article, domain, author string) (*entity.Article, error) {
	if f.err != nil {
		return nil, f.err
	}
	article.ID = 42
	f.upserted = article
	return article, nil
}

type fakeStoryRepo struct{}

func (f *fakeStoryRepo) Get(ctx context.Context, id string) (*entity.Story, error) { return nil, nil }
func (f *fakeStoryRepo) Create(ctx context.Context, story *entity.Story) error     { return nil }

func newTestService(t *testing.T, rawFetcher, headless Fetcher, articleRepo *fakeArticleRepo, cfg Config) (*Service, *queue.Queue) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.NewFromClient(rdb, nil)
	idem := idempotency.New(rdb)

	svc := New(q, idem, rawFetcher, headless, articleRepo, &fakeStoryRepo{}, cfg, nil)
	return svc, q
}

const htmlBody = `<html><head><meta name="author" content="Jane Doe"></head><body><h1>Title</h1><p>Hello world, this is the article body.</p></body></html>`

func TestService_HappyPath_EmitsToSummarizerIn(t *testing.T) {
	raw := &fakeFetcher{result: &fetcher.Result{FinalURL: "https://example.com/a", ContentType: "text/html", Body: []byte(htmlBody)}}
	articleRepo := &fakeArticleRepo{}
	svc, q := newTestService(t, raw, &fakeFetcher{}, articleRepo, DefaultConfig())

	ij := job.IngestJob{TraceID: "t1", Story: job.Story{ID: "s1", URL: "https://example.com/a?utm_source=x"}}
	svc.process(context.Background(), ij)

	_, payload, err := q.PopBlocking(context.Background(), []string{queueSummarizerIn}, time.Second)
	require.NoError(t, err)
	var in job.SummariserIn
	require.NoError(t, json.Unmarshal(payload, &in))
	assert.Equal(t, "s1", in.Story.ID)
	assert.Equal(t, "42", in.Article.ID)
	assert.Equal(t, job.SchemaVersion, in.SchemaVersion)
	assert.NotNil(t, articleRepo.upserted)
}

func TestService_NoURL_GoesToDLQ(t *testing.T) {
	svc, q := newTestService(t, &fakeFetcher{}, &fakeFetcher{}, &fakeArticleRepo{}, DefaultConfig())

	ij := job.IngestJob{TraceID: "t1", Story: job.Story{ID: "s1", URL: ""}}
	svc.process(context.Background(), ij)

	_, payload, err := q.PopBlocking(context.Background(), []string{queueScraperDLQ}, time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(payload), string(job.KindNoURL))
}

func TestService_NonRetryableFetchError_GoesToDLQ(t *testing.T) {
	raw := &fakeFetcher{err: job.ErrFetchNonRetry}
	svc, q := newTestService(t, raw, &fakeFetcher{}, &fakeArticleRepo{}, DefaultConfig())

	ij := job.IngestJob{TraceID: "t1", Story: job.Story{ID: "s1", URL: "https://example.com/a"}}
	svc.process(context.Background(), ij)

	_, payload, err := q.PopBlocking(context.Background(), []string{queueScraperDLQ}, time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(payload), string(job.KindFetchNonRetry))
}

func TestService_RetryableFetchError_HeadlessDisabled_Retries(t *testing.T) {
	raw := &fakeFetcher{err: job.ErrFetchRetry}
	cfg := DefaultConfig()
	cfg.HeadlessEnabled = false
	cfg.MaxRetries = 3
	svc, q := newTestService(t, raw, &fakeFetcher{}, &fakeArticleRepo{}, cfg)

	ij := job.IngestJob{TraceID: "t1", Story: job.Story{ID: "s1", URL: "https://example.com/a"}, Attempt: 0}
	svc.process(context.Background(), ij)

	_, payload, err := q.PopBlocking(context.Background(), []string{queueScraperRetry}, time.Second)
	require.NoError(t, err)
	var rj job.RetryJob
	require.NoError(t, json.Unmarshal(payload, &rj))
	assert.Equal(t, 1, rj.Attempt)
}

func TestService_RetryExhaustion_GoesToDLQ(t *testing.T) {
	raw := &fakeFetcher{err: job.ErrFetchRetry}
	cfg := DefaultConfig()
	cfg.HeadlessEnabled = false
	cfg.MaxRetries = 2
	svc, q := newTestService(t, raw, &fakeFetcher{}, &fakeArticleRepo{}, cfg)

	ij := job.IngestJob{TraceID: "t1", Story: job.Story{ID: "s1", URL: "https://example.com/a"}, Attempt: 1}
	svc.process(context.Background(), ij)

	_, payload, err := q.PopBlocking(context.Background(), []string{queueScraperDLQ}, time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(payload), string(job.KindFetchRetry))
}

func TestService_UnsupportedMIME_GoesToDLQ(t *testing.T) {
	raw := &fakeFetcher{result: &fetcher.Result{FinalURL: "https://example.com/a.pdf", ContentType: "application/pdf", Body: []byte("%PDF-1.4")}}
	svc, q := newTestService(t, raw, &fakeFetcher{}, &fakeArticleRepo{}, DefaultConfig())

	ij := job.IngestJob{TraceID: "t1", Story: job.Story{ID: "s1", URL: "https://example.com/a.pdf"}}
	svc.process(context.Background(), ij)

	_, payload, err := q.PopBlocking(context.Background(), []string{queueScraperDLQ}, time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(payload), string(job.KindUnsupportedMIME))
}

func TestService_EmptyContentAfterHeadlessFallback_GoesToDLQ(t *testing.T) {
	raw := &fakeFetcher{result: &fetcher.Result{FinalURL: "https://example.com/a", ContentType: "text/html", Body: []byte("<html><body></body></html>")}}
	headless := &fakeFetcher{result: &fetcher.Result{FinalURL: "https://example.com/a", ContentType: "text/html", Body: []byte("<html><body></body></html>")}}
	svc, q := newTestService(t, raw, headless, &fakeArticleRepo{}, DefaultConfig())

	ij := job.IngestJob{TraceID: "t1", Story: job.Story{ID: "s1", URL: "https://example.com/a"}}
	svc.process(context.Background(), ij)

	_, payload, err := q.PopBlocking(context.Background(), []string{queueScraperDLQ}, time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(payload), string(job.KindEmptyContent))
	assert.Equal(t, 1, headless.calls, "headless fallback must be attempted before DLQ")
}

func TestService_DBError_Retries(t *testing.T) {
	raw := &fakeFetcher{result: &fetcher.Result{FinalURL: "https://example.com/a", ContentType: "text/html", Body: []byte(htmlBody)}}
	articleRepo := &fakeArticleRepo{err: errors.New("connection refused")}
	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	svc, q := newTestService(t, raw, &fakeFetcher{}, articleRepo, cfg)

	ij := job.IngestJob{TraceID: "t1", Story: job.Story{ID: "s1", URL: "https://example.com/a"}}
	svc.process(context.Background(), ij)

	_, payload, err := q.PopBlocking(context.Background(), []string{queueScraperRetry}, time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(payload), string(job.KindDBError))
}

func TestService_ForceFalse_SkipsAlreadyDoneStory(t *testing.T) {
	raw := &fakeFetcher{result: &fetcher.Result{FinalURL: "https://example.com/a", ContentType: "text/html", Body: []byte(htmlBody)}}
	svc, q := newTestService(t, raw, &fakeFetcher{}, &fakeArticleRepo{}, DefaultConfig())

	_, err := svc.idem.Claim(context.Background(), idempotency.ScraperDoneKey("s1"), time.Minute)
	require.NoError(t, err)

	ij := job.IngestJob{TraceID: "t1", Story: job.Story{ID: "s1", URL: "https://example.com/a"}}
	svc.process(context.Background(), ij)

	assert.Equal(t, 0, raw.calls, "an already-done story must not be refetched")
	_, _, err = q.PopBlocking(context.Background(), []string{queueSummarizerIn, queueScraperDLQ}, 50*time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrTimeout)
}

func TestService_ForceTrue_RefetchesDoneStory(t *testing.T) {
	raw := &fakeFetcher{result: &fetcher.Result{FinalURL: "https://example.com/a", ContentType: "text/html", Body: []byte(htmlBody)}}
	cfg := DefaultConfig()
	cfg.Force = true
	svc, _ := newTestService(t, raw, &fakeFetcher{}, &fakeArticleRepo{}, cfg)

	_, err := svc.idem.Claim(context.Background(), idempotency.ScraperDoneKey("s1"), time.Minute)
	require.NoError(t, err)

	ij := job.IngestJob{TraceID: "t1", Story: job.Story{ID: "s1", URL: "https://example.com/a"}}
	svc.process(context.Background(), ij)

	assert.Equal(t, 1, raw.calls, "FORCE must bypass the advisory skip check")
}
