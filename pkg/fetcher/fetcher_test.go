package fetcher_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/virgo-archive/tapir/pkg/download"
	"github.com/virgo-archive/tapir/pkg/fetcher"
	mock_fetcher "github.com/virgo-archive/tapir/pkg/fetcher/mocks"
	"github.com/virgo-archive/tapir/pkg/model"
)

func TestOpenInlineResultSkipsCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	dl := mock_fetcher.NewMockDownloader(ctrl) // no Fetch expected

	f := fetcher.New(dl, 1024)
	ref := model.ResultRef{Inline: []byte("small sync table"), Size: 16}

	rc, err := f.Open(context.Background(), ref)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "small sync table", string(data))
}

func TestOpenOversizedInlineStillServed(t *testing.T) {
	ctrl := gomock.NewController(t)
	dl := mock_fetcher.NewMockDownloader(ctrl)

	f := fetcher.New(dl, 4)
	// Bigger than the threshold but with no URL to re-fetch from: the held
	// bytes are all there is.
	ref := model.ResultRef{Inline: []byte("larger than threshold"), Size: 21}

	rc, err := f.Open(context.Background(), ref)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "larger than threshold", string(data))
}

func TestOpenBulkResultGoesThroughDownloader(t *testing.T) {
	ctrl := gomock.NewController(t)
	dl := mock_fetcher.NewMockDownloader(ctrl)

	dir := t.TempDir()
	local := filepath.Join(dir, "staged.vot")
	require.NoError(t, os.WriteFile(local, []byte("staged product"), 0o640))

	ref := model.ResultRef{URL: "http://archive.example.org/data/1", Size: 14, ETag: "v1"}
	dl.EXPECT().
		Fetch(gomock.Any(), download.Request{URL: ref.URL, ETag: "v1", ExpectedSize: 14}).
		Return(&download.Entry{LocalPath: local, State: download.StateComplete}, nil)

	f := fetcher.New(dl, fetcher.DefaultInlineThreshold)
	rc, err := f.Open(context.Background(), ref)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "staged product", string(data))
}

func TestStageOmitsUnknownSize(t *testing.T) {
	ctrl := gomock.NewController(t)
	dl := mock_fetcher.NewMockDownloader(ctrl)

	ref := model.ResultRef{URL: "http://archive.example.org/data/2", Size: model.SizeUnknown}
	dl.EXPECT().
		Fetch(gomock.Any(), download.Request{URL: ref.URL}).
		Return(&download.Entry{State: download.StateComplete}, nil)

	f := fetcher.New(dl, 0)
	_, err := f.Stage(context.Background(), ref)
	require.NoError(t, err)
}

func TestOpenRefWithoutSource(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := fetcher.New(mock_fetcher.NewMockDownloader(ctrl), 0)

	_, err := f.Open(context.Background(), model.ResultRef{})
	assert.Error(t, err)
}

func TestResolveRequiresCompletedJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := fetcher.New(mock_fetcher.NewMockDownloader(ctrl), 0)

	refs := []model.ResultRef{{URL: "http://archive.example.org/data/1"}}
	got, err := f.Resolve(&model.Job{Phase: model.PhaseCompleted, Results: refs})
	require.NoError(t, err)
	assert.Equal(t, refs, got)

	_, err = f.Resolve(&model.Job{ID: "job-3", Phase: model.PhaseExecuting})
	assert.Error(t, err)
}
