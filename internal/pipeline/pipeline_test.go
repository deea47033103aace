package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/maltedev/jan-enricher/internal/models"
	"github.com/maltedev/jan-enricher/internal/resolver"
	"github.com/maltedev/jan-enricher/internal/scraper"
	"github.com/maltedev/jan-enricher/internal/sheets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type MockSpreadsheet struct {
	mock.Mock
}

func (m *MockSpreadsheet) ReadColumn(ctx context.Context, sheet, column string, startRow, endRow int) ([]string, error) {
	args := m.Called(ctx, sheet, column, startRow, endRow)
	if v := args.Get(0); v != nil {
		return v.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSpreadsheet) WriteRow(ctx context.Context, sheet string, row int, startColumn string, values []string) error {
	args := m.Called(ctx, sheet, row, startColumn, values)
	return args.Error(0)
}

func (m *MockSpreadsheet) Close() error {
	return m.Called().Error(0)
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) StartRun(ctx context.Context, run *models.Run) error {
	return m.Called(ctx, run).Error(0)
}

func (m *MockRecorder) Record(ctx context.Context, run *models.Run, rec *models.CodeRecord) error {
	return m.Called(ctx, run, rec).Error(0)
}

func (m *MockRecorder) FinishRun(ctx context.Context, run *models.Run) error {
	return m.Called(ctx, run).Error(0)
}

type imageFunc func(ctx context.Context, url string) (string, error)

func (f imageFunc) Resolve(ctx context.Context, url string) (string, error) { return f(ctx, url) }

type finderFunc func(ctx context.Context, imageURL string) (string, error)

func (f finderFunc) FindListing(ctx context.Context, imageURL string) (string, error) {
	return f(ctx, imageURL)
}

type codeFunc func(ctx context.Context, t resolver.Target) (resolver.Result, error)

func (f codeFunc) Resolve(ctx context.Context, t resolver.Target) (resolver.Result, error) {
	return f(ctx, t)
}

const (
	testImage   = "https://i.ebayimg.com/images/g/abc/s-l1600.jpg"
	testListing = "https://www.amazon.co.jp/dp/B00ABC123"
	testJAN     = "4901234567894"
)

func happyStages() (imageFunc, finderFunc, codeFunc) {
	return func(context.Context, string) (string, error) { return testImage, nil },
		func(context.Context, string) (string, error) { return testListing, nil },
		func(_ context.Context, t resolver.Target) (resolver.Result, error) {
			return resolver.Result{SourceURL: t.ListingURL, Code: testJAN}, nil
		}
}

func testOptions() Options {
	return Options{
		Sheet:        "listings",
		SourceColumn: "A",
		OutputColumn: "D",
		StartRow:     2,
		EndRow:       4,
		Strategy:     "overlay",
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	sheet := new(MockSpreadsheet)
	sheet.On("ReadColumn", mock.Anything, "listings", "A", 2, 4).
		Return([]string{"https://www.ebay.com/itm/1"}, nil)
	sheet.On("WriteRow", mock.Anything, "listings", 2, "D",
		[]string{testJAN, "B00ABC123", testImage, testListing}).Return(nil)

	images, finder, codes := happyStages()
	run, err := New(sheet, images, finder, codes, testOptions(), testLogger()).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, run.Rows)
	assert.Equal(t, 1, run.Resolved)
	assert.Zero(t, run.Degraded)
	assert.False(t, run.FinishedAt.IsZero())
	sheet.AssertExpectations(t)
}

func TestPipeline_OneRecordPerRow(t *testing.T) {
	sheet := new(MockSpreadsheet)
	sources := []string{
		"https://www.ebay.com/itm/1",
		"",
		"https://www.ebay.com/itm/3",
		"https://www.ebay.com/itm/4",
		"https://www.ebay.com/itm/5",
	}
	opts := testOptions()
	opts.EndRow = 0
	sheet.On("ReadColumn", mock.Anything, "listings", "A", 2, 0).Return(sources, nil)
	sheet.On("WriteRow", mock.Anything, "listings", mock.AnythingOfType("int"), "D", mock.Anything).Return(nil)

	images := imageFunc(func(_ context.Context, url string) (string, error) {
		if url == "https://www.ebay.com/itm/3" {
			return "", scraper.ErrNoImage
		}
		return testImage, nil
	})
	finder := finderFunc(func(context.Context, string) (string, error) { return testListing, nil })
	codes := codeFunc(func(context.Context, resolver.Target) (resolver.Result, error) {
		panic("driver crashed")
	})

	rec := new(MockRecorder)
	rec.On("StartRun", mock.Anything, mock.Anything).Return(nil)
	rec.On("Record", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	rec.On("FinishRun", mock.Anything, mock.Anything).Return(nil)

	run, err := New(sheet, images, finder, codes, opts, testLogger()).
		WithRecorder(rec).
		Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, len(sources), run.Rows)
	assert.Equal(t, len(sources), run.Degraded)
	sheet.AssertNumberOfCalls(t, "WriteRow", len(sources))
	rec.AssertNumberOfCalls(t, "Record", len(sources))
	for row := 2; row < 2+len(sources); row++ {
		sheet.AssertCalled(t, "WriteRow", mock.Anything, "listings", row, "D", mock.Anything)
	}
}

func TestPipeline_ReadFailureIsFatal(t *testing.T) {
	sheet := new(MockSpreadsheet)
	sheet.On("ReadColumn", mock.Anything, "listings", "A", 2, 4).
		Return(nil, sheets.ErrRead)

	images, finder, codes := happyStages()
	_, err := New(sheet, images, finder, codes, testOptions(), testLogger()).Run(context.Background())

	assert.ErrorIs(t, err, sheets.ErrRead)
	sheet.AssertNotCalled(t, "WriteRow", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_WriteErrorSwallowed(t *testing.T) {
	sheet := new(MockSpreadsheet)
	sheet.On("ReadColumn", mock.Anything, "listings", "A", 2, 4).
		Return([]string{"https://www.ebay.com/itm/1", "https://www.ebay.com/itm/2"}, nil)
	sheet.On("WriteRow", mock.Anything, "listings", 2, "D", mock.Anything).Return(sheets.ErrWrite).Once()
	sheet.On("WriteRow", mock.Anything, "listings", 3, "D", mock.Anything).Return(nil).Once()

	images, finder, codes := happyStages()
	run, err := New(sheet, images, finder, codes, testOptions(), testLogger()).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, run.Rows)
	assert.Equal(t, 1, run.WriteFails)
	sheet.AssertExpectations(t)
}

func TestPipeline_RecorderErrorSwallowed(t *testing.T) {
	sheet := new(MockSpreadsheet)
	sheet.On("ReadColumn", mock.Anything, "listings", "A", 2, 4).Return([]string{"https://www.ebay.com/itm/1"}, nil)
	sheet.On("WriteRow", mock.Anything, "listings", 2, "D", mock.Anything).Return(nil)

	rec := new(MockRecorder)
	rec.On("StartRun", mock.Anything, mock.Anything).Return(errors.New("db down"))
	rec.On("Record", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down"))
	rec.On("FinishRun", mock.Anything, mock.Anything).Return(errors.New("db down"))

	images, finder, codes := happyStages()
	run, err := New(sheet, images, finder, codes, testOptions(), testLogger()).
		WithRecorder(rec).
		Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, run.Resolved)
}

type countingPacer struct {
	mu    sync.Mutex
	waits int
}

func (c *countingPacer) Wait(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits++
	return nil
}

func TestPipeline_PacesBetweenRows(t *testing.T) {
	sheet := new(MockSpreadsheet)
	sheet.On("ReadColumn", mock.Anything, "listings", "A", 2, 4).
		Return([]string{"a", "b", "c"}, nil)
	sheet.On("WriteRow", mock.Anything, "listings", mock.Anything, "D", mock.Anything).Return(nil)

	pacer := &countingPacer{}
	images, finder, codes := happyStages()
	_, err := New(sheet, images, finder, codes, testOptions(), testLogger()).
		WithPacer(pacer).
		Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, pacer.waits)
}

func TestPipeline_CancelStopsBeforeNextRow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sheet := new(MockSpreadsheet)
	sheet.On("ReadColumn", mock.Anything, "listings", "A", 2, 4).
		Return([]string{"a", "b", "c"}, nil)
	sheet.On("WriteRow", mock.Anything, "listings", mock.Anything, "D", mock.Anything).Return(nil)

	_, finder, codes := happyStages()
	images := imageFunc(func(context.Context, string) (string, error) {
		cancel()
		return testImage, nil
	})

	run, err := New(sheet, images, finder, codes, testOptions(), testLogger()).Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, run.Rows)
	sheet.AssertNumberOfCalls(t, "WriteRow", 1)
}

func TestProcessRow_Degradation(t *testing.T) {
	boom := errors.New("boom")
	okImage := imageFunc(func(context.Context, string) (string, error) { return testImage, nil })
	okFinder := finderFunc(func(context.Context, string) (string, error) { return testListing, nil })
	okCodes := codeFunc(func(_ context.Context, t resolver.Target) (resolver.Result, error) {
		return resolver.Result{SourceURL: "https://search.eresa.jp/detail/" + t.Identifier, Code: testJAN}, nil
	})

	tests := []struct {
		name   string
		images scraper.ImageSource
		finder scraper.ListingFinder
		codes  resolver.Resolver
		want   []string
		stage  models.Stage
	}{
		{
			name:   "image failure leaves every field empty",
			images: imageFunc(func(context.Context, string) (string, error) { return "", scraper.ErrFetch }),
			finder: okFinder,
			codes:  okCodes,
			want:   []string{"", "", "", ""},
			stage:  models.StageImage,
		},
		{
			name:   "search failure keeps the image",
			images: okImage,
			finder: finderFunc(func(context.Context, string) (string, error) { return "", boom }),
			codes:  okCodes,
			want:   []string{"", "", testImage, ""},
			stage:  models.StageSearch,
		},
		{
			name:   "identifier failure keeps image and listing",
			images: okImage,
			finder: finderFunc(func(context.Context, string) (string, error) {
				return "https://www.amazon.co.jp/s?k=widget", nil
			}),
			codes: okCodes,
			want:  []string{"", "", testImage, "https://www.amazon.co.jp/s?k=widget"},
			stage: models.StageIdentifier,
		},
		{
			name:   "code failure keeps everything else",
			images: okImage,
			finder: okFinder,
			codes: codeFunc(func(context.Context, resolver.Target) (resolver.Result, error) {
				return resolver.Result{SourceURL: "https://search.eresa.jp/detail/B00ABC123"}, resolver.ErrCodeNotFound
			}),
			want:  []string{"", "B00ABC123", testImage, testListing},
			stage: models.StageCode,
		},
		{
			name:   "all stages succeed",
			images: okImage,
			finder: okFinder,
			codes:  okCodes,
			want:   []string{testJAN, "B00ABC123", testImage, testListing},
			stage:  models.StageDone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(new(MockSpreadsheet), tt.images, tt.finder, tt.codes, testOptions(), testLogger())
			runID := uuid.New()

			rec := p.ProcessRow(context.Background(), runID, models.ListingRef{Row: 7, URL: "https://www.ebay.com/itm/7"})

			require.NotNil(t, rec)
			assert.Equal(t, tt.want, rec.Values())
			assert.Equal(t, tt.stage, rec.Stage)
			assert.Equal(t, 7, rec.Row)
			assert.Equal(t, runID, rec.RunID)
			if tt.stage == models.StageDone {
				assert.Empty(t, rec.Error)
				assert.Equal(t, "https://search.eresa.jp/detail/B00ABC123", rec.LookupURL)
			} else {
				assert.NotEmpty(t, rec.Error)
				assert.Empty(t, rec.LookupURL)
			}
		})
	}
}
