package biz_test

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/lk2023060901/vision-backend/internal/image/biz"
	"github.com/lk2023060901/vision-backend/internal/image/data"
	"github.com/lk2023060901/vision-backend/internal/image/storage"
	apperrors "github.com/lk2023060901/vision-backend/internal/pkg/errors"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"github.com/lk2023060901/vision-backend/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// stubClassifier 依次返回标签，之后重复最后一个
type stubClassifier struct {
	labels []string
	err    error
	calls  atomic.Int32
	block  bool // 不返回结果，等待 ctx 结束
}

func (s *stubClassifier) Predict(ctx context.Context, in biz.ClassifyInput) (string, error) {
	n := int(s.calls.Add(1))
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if s.err != nil {
		return "", s.err
	}
	if in.Image == nil || len(in.Data) == 0 {
		return "", errors.New("classifier received no image")
	}
	if n > len(s.labels) {
		n = len(s.labels)
	}
	return s.labels[n-1], nil
}

type fixture struct {
	uc         *biz.IntakeUseCase
	repo       *data.MemoryImageRepo
	store      *storage.FSStore
	classifier *stubClassifier
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	cfg        *biz.Config
	repo       biz.ImageRepo
	blobs      biz.BlobStore
	classifier *stubClassifier
}

func withConfig(cfg *biz.Config) fixtureOption {
	return func(c *fixtureConfig) { c.cfg = cfg }
}

func withRepo(wrap func(biz.ImageRepo) biz.ImageRepo) fixtureOption {
	return func(c *fixtureConfig) { c.repo = wrap(c.repo) }
}

func withBlobs(wrap func(biz.BlobStore) biz.BlobStore) fixtureOption {
	return func(c *fixtureConfig) { c.blobs = wrap(c.blobs) }
}

func withClassifier(s *stubClassifier) fixtureOption {
	return func(c *fixtureConfig) { c.classifier = s }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	repo := data.NewMemoryImageRepo()
	store, err := storage.NewFSStore(t.TempDir(), logger.Nop())
	require.NoError(t, err)

	fc := &fixtureConfig{
		cfg:        biz.DefaultConfig(),
		repo:       repo,
		blobs:      store,
		classifier: &stubClassifier{labels: []string{"cat"}},
	}
	for _, opt := range opts {
		opt(fc)
	}

	uc, err := biz.NewIntakeUseCase(fc.cfg, fc.repo, fc.blobs, fc.classifier, metrics.NewImages(prometheus.NewRegistry()), logger.Nop())
	require.NoError(t, err)

	return &fixture{uc: uc, repo: repo, store: store, classifier: fc.classifier}
}

func (f *fixture) blobCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(f.store.Root())
	require.NoError(t, err)
	return len(entries)
}

func testJPEG(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: shade, G: 128, B: 255 - shade, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func jpegUpload(data []byte, owner int64) biz.IngestRequest {
	return biz.IngestRequest{Data: data, DeclaredMIME: "image/jpeg", OwnerID: owner}
}

func TestIntake_ConcreteScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	upload := testJPEG(t, 100, 200, 10)

	first, err := f.uc.Ingest(ctx, jpegUpload(upload, 7))
	require.NoError(t, err)
	assert.True(t, first.IsNew)
	assert.Equal(t, 100, first.Image.Width)
	assert.Equal(t, 200, first.Image.Height)
	assert.Equal(t, "image/jpeg", first.Image.MIME)
	assert.Equal(t, int64(7), first.Image.OwnerID)
	assert.Nil(t, first.Image.Classification)
	assert.Len(t, first.Image.ContentHash, 64)

	second, err := f.uc.Ingest(ctx, jpegUpload(upload, 9))
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.Image.ID, second.Image.ID)
	assert.Equal(t, first.Image.ContentHash, second.Image.ContentHash)
	assert.Equal(t, 1, f.blobCount(t))

	label, err := f.uc.Classify(ctx, first.Image.ID)
	require.NoError(t, err)
	assert.Equal(t, "cat", label)

	img, err := f.uc.GetImage(ctx, first.Image.ID)
	require.NoError(t, err)
	require.NotNil(t, img.Classification)
	assert.Equal(t, "cat", *img.Classification)
}

func TestIntake_DedupIgnoresDeclaredAlias(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	upload := testJPEG(t, 32, 32, 50)

	a, err := f.uc.Ingest(ctx, jpegUpload(upload, 7))
	require.NoError(t, err)
	b, err := f.uc.Ingest(ctx, biz.IngestRequest{Data: upload, DeclaredMIME: "image/jpg", OwnerID: 7})
	require.NoError(t, err)

	assert.True(t, a.IsNew)
	assert.False(t, b.IsNew)
	assert.Equal(t, a.Image.ID, b.Image.ID)
	assert.Equal(t, 1, f.repo.Len())
	assert.Equal(t, 1, f.blobCount(t))
}

func TestIntake_ConcurrentIdenticalUploads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	upload := testJPEG(t, 64, 48, 90)

	const n = 16
	results := make([]biz.IngestResult, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			res, err := f.uc.Ingest(ctx, jpegUpload(upload, int64(i+1)))
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	created := 0
	for _, res := range results {
		if res.IsNew {
			created++
		}
		assert.Equal(t, results[0].Image.ID, res.Image.ID)
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, f.repo.Len())
	assert.Equal(t, 1, f.blobCount(t))
}

func TestIntake_InvalidInputLeavesNothingBehind(t *testing.T) {
	cfg := biz.DefaultConfig()
	cfg.AllowedMIMETypes = []string{"image/jpeg", "image/png"}
	cfg.MaxUploadBytes = 4096
	cfg.MaxPixels = 1000

	jpeg := testJPEG(t, 8, 8, 1)
	tests := []struct {
		name string
		req  biz.IngestRequest
		want error
	}{
		{"empty", jpegUpload(nil, 7), biz.ErrEmptyImage},
		{"oversized", jpegUpload(make([]byte, 4097), 7), biz.ErrImageTooLarge},
		{"too many pixels", jpegUpload(testJPEG(t, 40, 40, 1), 7), biz.ErrImageTooLarge},
		{"declared type not allowed", biz.IngestRequest{Data: jpeg, DeclaredMIME: "image/gif", OwnerID: 7}, biz.ErrUnsupportedMIME},
		{"undecodable", jpegUpload([]byte("definitely not a jpeg"), 7), biz.ErrCorruptImage},
		{"truncated", jpegUpload(jpeg[:len(jpeg)/3], 7), biz.ErrCorruptImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, withConfig(cfg))

			_, err := f.uc.Ingest(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, apperrors.Is(err, apperrors.ErrImageInvalidInput))
			assert.Zero(t, f.repo.Len())
			assert.Zero(t, f.blobCount(t))
		})
	}
}

func TestIntake_InvalidConfig(t *testing.T) {
	cfg := biz.DefaultConfig()
	cfg.AllowedMIMETypes = []string{"image/webp"}

	_, err := biz.NewIntakeUseCase(cfg, data.NewMemoryImageRepo(), nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestIntake_ClassificationMonotonic(t *testing.T) {
	ctx := context.Background()
	stub := &stubClassifier{labels: []string{"cat", "dog"}}
	f := newFixture(t, withClassifier(stub))

	res, err := f.uc.Ingest(ctx, jpegUpload(testJPEG(t, 20, 20, 3), 7))
	require.NoError(t, err)

	first, err := f.uc.Classify(ctx, res.Image.ID)
	require.NoError(t, err)
	second, err := f.uc.Classify(ctx, res.Image.ID)
	require.NoError(t, err)

	assert.Equal(t, "cat", first)
	assert.Equal(t, "cat", second)
	assert.Equal(t, int32(1), stub.calls.Load(), "a labelled record is not classified again")

	relabel, err := f.uc.Reclassify(ctx, res.Image.ID)
	require.NoError(t, err)
	assert.Equal(t, "dog", relabel)

	img, err := f.uc.GetImage(ctx, res.Image.ID)
	require.NoError(t, err)
	assert.Equal(t, "dog", *img.Classification)
}

func TestIntake_ConcurrentClassifyFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, withClassifier(&stubClassifier{labels: []string{"cat", "dog", "bird", "fish"}}))

	res, err := f.uc.Ingest(ctx, jpegUpload(testJPEG(t, 20, 20, 4), 7))
	require.NoError(t, err)

	labels := make([]string, 4)
	var wg sync.WaitGroup
	for i := range labels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			label, err := f.uc.Classify(ctx, res.Image.ID)
			assert.NoError(t, err)
			labels[i] = label
		}()
	}
	wg.Wait()

	img, err := f.uc.GetImage(ctx, res.Image.ID)
	require.NoError(t, err)
	for _, label := range labels {
		assert.Equal(t, *img.Classification, label)
	}
}

func TestIntake_ClassificationFailures(t *testing.T) {
	tests := []struct {
		name       string
		classifier *stubClassifier
		timeout    time.Duration
	}{
		{"classifier error", &stubClassifier{err: errors.New("model server unavailable")}, time.Second},
		{"empty label", &stubClassifier{labels: []string{"  "}}, time.Second},
		{"timeout", &stubClassifier{block: true}, 20 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := biz.DefaultConfig()
			cfg.ClassifyTimeout = tt.timeout
			f := newFixture(t, withConfig(cfg), withClassifier(tt.classifier))
			ctx := context.Background()

			res, err := f.uc.Ingest(ctx, jpegUpload(testJPEG(t, 10, 10, 5), 7))
			require.NoError(t, err)

			_, err = f.uc.Classify(ctx, res.Image.ID)
			assert.ErrorIs(t, err, biz.ErrClassificationFailed)
			assert.True(t, apperrors.Is(err, apperrors.ErrImageClassificationFailed))
			assert.True(t, apperrors.IsRetryable(apperrors.ExtractCode(err)))

			img, err := f.uc.GetImage(ctx, res.Image.ID)
			require.NoError(t, err)
			assert.Nil(t, img.Classification)
		})
	}
}

func TestIntake_ClassifyCanceledByCaller(t *testing.T) {
	f := newFixture(t, withClassifier(&stubClassifier{block: true}))

	res, err := f.uc.Ingest(context.Background(), jpegUpload(testJPEG(t, 10, 10, 6), 7))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = f.uc.Classify(ctx, res.Image.ID)
	assert.ErrorIs(t, err, context.Canceled)

	img, err := f.uc.GetImage(context.Background(), res.Image.ID)
	require.NoError(t, err)
	assert.False(t, img.Classified())
}

func TestIntake_ClassifyUnknownImage(t *testing.T) {
	f := newFixture(t)

	_, err := f.uc.Classify(context.Background(), 42)
	assert.ErrorIs(t, err, biz.ErrImageNotFound)
	assert.True(t, apperrors.Is(err, apperrors.ErrImageNotFound))
	assert.Zero(t, f.classifier.calls.Load())
}

func TestIntake_ClassifyMissingBlob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.uc.Ingest(ctx, jpegUpload(testJPEG(t, 10, 10, 7), 7))
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, res.Image.StoredName))

	_, err = f.uc.Classify(ctx, res.Image.ID)
	assert.ErrorIs(t, err, biz.ErrBlobNotFound)
	assert.True(t, apperrors.Is(err, apperrors.ErrImageStorageFailed))
}

func TestIntake_CurrentForOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var last biz.Image
	for i := 0; i < 3; i++ {
		res, err := f.uc.Ingest(ctx, jpegUpload(testJPEG(t, 10+i, 10, uint8(20*i)), 7))
		require.NoError(t, err)
		last = res.Image
	}

	current, err := f.uc.CurrentImage(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, last.ID, current.ID)

	path, mimeType, ok, err := f.uc.CurrentImagePath(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, f.store.Locate(last.StoredName), path)
	assert.Equal(t, "image/jpeg", mimeType)

	_, _, ok, err = f.uc.CurrentImagePath(ctx, 9)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.uc.CurrentImage(ctx, 9)
	assert.True(t, apperrors.Is(err, apperrors.ErrImageNotFound))

	path, ok, err = f.uc.ImagePath(ctx, last.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.FileExists(t, path)

	_, ok, err = f.uc.ImagePath(ctx, last.ID+100)
	require.NoError(t, err)
	assert.False(t, ok)

	images, total, err := f.uc.ListImages(ctx, 7, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, images, 2)
	assert.Equal(t, last.ID, images[0].ID)
}

func TestIntake_OpenImage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.uc.Ingest(ctx, jpegUpload(testJPEG(t, 12, 12, 8), 7))
	require.NoError(t, err)

	img, content, err := f.uc.OpenImage(ctx, res.Image.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Image.ID, img.ID)

	stored, err := f.store.Read(ctx, res.Image.StoredName)
	require.NoError(t, err)
	assert.Equal(t, stored, content)
}

func TestIntake_FindByHash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.uc.Ingest(ctx, jpegUpload(testJPEG(t, 12, 12, 8), 7))
	require.NoError(t, err)

	img, err := f.uc.FindByHash(ctx, strings.ToUpper(res.Image.ContentHash))
	require.NoError(t, err)
	assert.Equal(t, res.Image.ID, img.ID)

	_, err = f.uc.FindByHash(ctx, "not-a-hash")
	assert.True(t, apperrors.Is(err, apperrors.ErrImageInvalidInput))
	assert.ErrorIs(t, err, biz.ErrInvalidHash)

	_, err = f.uc.FindByHash(ctx, strings.Repeat("f", 64))
	assert.True(t, apperrors.Is(err, apperrors.ErrImageNotFound))
}

func TestIntake_Delete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.uc.Ingest(ctx, jpegUpload(testJPEG(t, 10, 10, 9), 7))
	require.NoError(t, err)
	id := res.Image.ID

	err = f.uc.Delete(ctx, id, biz.Requester{OwnerID: 9})
	assert.ErrorIs(t, err, biz.ErrForbidden)
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))
	assert.Equal(t, 1, f.repo.Len())

	require.NoError(t, f.uc.Delete(ctx, id, biz.Requester{OwnerID: 7}))
	assert.Zero(t, f.repo.Len())
	assert.Zero(t, f.blobCount(t))

	require.NoError(t, f.uc.Delete(ctx, id, biz.Requester{OwnerID: 7}), "deleting twice succeeds")

	again, err := f.uc.Ingest(ctx, jpegUpload(testJPEG(t, 10, 10, 9), 9))
	require.NoError(t, err)
	assert.True(t, again.IsNew)

	require.NoError(t, f.uc.Delete(ctx, again.Image.ID, biz.Requester{OwnerID: 1, Admin: true}))
	assert.Zero(t, f.repo.Len())
}

// faultyRepo 覆盖部分 ImageRepo 方法
type faultyRepo struct {
	biz.ImageRepo
	insert       func(ctx context.Context, img biz.NewImage) (biz.InsertResult, error)
	findByHash   func(ctx context.Context, hash string) (biz.Image, bool, error)
	updateErr    error
	insertCalled atomic.Int32
}

func (r *faultyRepo) Insert(ctx context.Context, img biz.NewImage) (biz.InsertResult, error) {
	r.insertCalled.Add(1)
	if r.insert != nil {
		return r.insert(ctx, img)
	}
	return r.ImageRepo.Insert(ctx, img)
}

func (r *faultyRepo) FindByHash(ctx context.Context, hash string) (biz.Image, bool, error) {
	if r.findByHash != nil {
		return r.findByHash(ctx, hash)
	}
	return r.ImageRepo.FindByHash(ctx, hash)
}

func (r *faultyRepo) UpdateClassification(ctx context.Context, id int64, label string, overwrite bool) (bool, error) {
	if r.updateErr != nil {
		return false, r.updateErr
	}
	return r.ImageRepo.UpdateClassification(ctx, id, label, overwrite)
}

func TestIntake_RepositoryFailureRollsBackBlob(t *testing.T) {
	tests := []struct {
		name string
		repo func(biz.ImageRepo) *faultyRepo
		code int
		want error
	}{
		{
			name: "lookup fails",
			repo: func(inner biz.ImageRepo) *faultyRepo {
				return &faultyRepo{ImageRepo: inner, findByHash: func(context.Context, string) (biz.Image, bool, error) {
					return biz.Image{}, false, errors.New("connection reset")
				}}
			},
			code: apperrors.ErrImageStorageFailed,
		},
		{
			name: "insert fails",
			repo: func(inner biz.ImageRepo) *faultyRepo {
				return &faultyRepo{ImageRepo: inner, insert: func(context.Context, biz.NewImage) (biz.InsertResult, error) {
					return biz.InsertResult{}, errors.New("disk full")
				}}
			},
			code: apperrors.ErrImageStorageFailed,
		},
		{
			name: "unknown owner",
			repo: func(inner biz.ImageRepo) *faultyRepo {
				return &faultyRepo{ImageRepo: inner, insert: func(context.Context, biz.NewImage) (biz.InsertResult, error) {
					return biz.InsertResult{}, biz.ErrOwnerNotFound
				}}
			},
			code: apperrors.ErrImageOwnerNotFound,
			want: biz.ErrOwnerNotFound,
		},
		{
			name: "hash conflict never resolves",
			repo: func(inner biz.ImageRepo) *faultyRepo {
				return &faultyRepo{ImageRepo: inner, insert: func(context.Context, biz.NewImage) (biz.InsertResult, error) {
					return biz.InsertResult{}, biz.ErrHashConflict
				}}
			},
			code: apperrors.ErrImageStorageFailed,
			want: biz.ErrHashConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, withRepo(func(inner biz.ImageRepo) biz.ImageRepo { return tt.repo(inner) }))

			_, err := f.uc.Ingest(context.Background(), jpegUpload(testJPEG(t, 10, 10, 11), 7))
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, tt.code), "got %v", err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Zero(t, f.blobCount(t))
			assert.Zero(t, f.repo.Len())
		})
	}
}

func TestIntake_HashConflictIsRetried(t *testing.T) {
	var repo *faultyRepo
	f := newFixture(t, withRepo(func(inner biz.ImageRepo) biz.ImageRepo {
		repo = &faultyRepo{ImageRepo: inner}
		repo.insert = func(ctx context.Context, img biz.NewImage) (biz.InsertResult, error) {
			if repo.insertCalled.Load() == 1 {
				return biz.InsertResult{}, biz.ErrHashConflict
			}
			return inner.Insert(ctx, img)
		}
		return repo
	}))

	res, err := f.uc.Ingest(context.Background(), jpegUpload(testJPEG(t, 10, 10, 12), 7))
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Equal(t, int32(2), repo.insertCalled.Load())
	assert.Equal(t, 1, f.blobCount(t))
}

func TestIntake_LostInsertRaceReturnsWinner(t *testing.T) {
	ctx := context.Background()
	winner := biz.Image{ID: 99, StoredName: "winner.jpg", Width: 10, Height: 10, MIME: "image/jpeg", OwnerID: 3}
	f := newFixture(t, withRepo(func(inner biz.ImageRepo) biz.ImageRepo {
		return &faultyRepo{ImageRepo: inner, insert: func(_ context.Context, img biz.NewImage) (biz.InsertResult, error) {
			winner.ContentHash = img.ContentHash
			return biz.InsertResult{Image: winner, Duplicate: true}, nil
		}}
	}))

	res, err := f.uc.Ingest(ctx, jpegUpload(testJPEG(t, 10, 10, 13), 7))
	require.NoError(t, err)
	assert.False(t, res.IsNew)
	assert.Equal(t, int64(99), res.Image.ID)
	assert.Zero(t, f.blobCount(t), "the redundant blob is removed")
}

func TestIntake_ClassificationPersistFailureStillReturnsLabel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, withRepo(func(inner biz.ImageRepo) biz.ImageRepo {
		return &faultyRepo{ImageRepo: inner, updateErr: errors.New("read-only transaction")}
	}))

	res, err := f.uc.Ingest(ctx, jpegUpload(testJPEG(t, 10, 10, 14), 7))
	require.NoError(t, err)

	label, err := f.uc.Classify(ctx, res.Image.ID)
	require.NoError(t, err)
	assert.Equal(t, "cat", label)

	img, err := f.uc.GetImage(ctx, res.Image.ID)
	require.NoError(t, err)
	assert.Nil(t, img.Classification)
}

// brokenDeleteStore 所有 Delete 都失败
type brokenDeleteStore struct {
	biz.BlobStore
}

func (s brokenDeleteStore) Delete(context.Context, string) error {
	return errors.New("permission denied")
}

func TestIntake_DeleteBlobFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, withBlobs(func(inner biz.BlobStore) biz.BlobStore { return brokenDeleteStore{inner} }))

	res, err := f.uc.Ingest(ctx, jpegUpload(testJPEG(t, 10, 10, 15), 7))
	require.NoError(t, err)

	err = f.uc.Delete(ctx, res.Image.ID, biz.Requester{OwnerID: 7})
	assert.True(t, apperrors.Is(err, apperrors.ErrImageStorageFailed))
	assert.Zero(t, f.repo.Len(), "the record is gone even though the blob stayed")
}
