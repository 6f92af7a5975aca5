package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/sphere_capture/internal/frame"
	"github.com/relabs-tech/sphere_capture/internal/gps"
)

var (
	_ Repository = (*SQLite)(nil)
	_ Repository = (*Memory)(nil)
)

func repositories(t *testing.T) map[string]func() Repository {
	return map[string]func() Repository{
		"memory": func() Repository { return NewMemory() },
		"sqlite": func() Repository {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "session.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func sampleFrame(n int, image []byte) frame.Frame {
	return frame.Frame{
		Record: frame.Record{
			ID:        frame.FrameID(n),
			Timestamp: int64(1700000000000 + n),
			Sensors:   frame.Sensors{Yaw: float64(n * 45), Pitch: 0, Roll: 1.5},
			Camera:    frame.Camera{HFOV: 75},
			TargetID:  "ring0_" + string(rune('0'+n)),
		},
		Image: image,
	}
}

func TestRepositoryAppendAndManifest(t *testing.T) {
	for name, open := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open()

			a := sampleFrame(1, []byte{1, 2, 3})
			b := sampleFrame(2, []byte{4, 5})
			require.NoError(t, repo.Append(ctx, a))
			require.NoError(t, repo.Append(ctx, b))

			m, err := repo.Manifest(ctx)
			require.NoError(t, err)
			assert.NotEmpty(t, m.SessionID)
			if diff := cmp.Diff([]frame.Record{a.Record, b.Record}, m.Frames); diff != "" {
				t.Errorf("manifest frames mismatch (-want +got):\n%s", diff)
			}

			img, err := repo.Image(ctx, b.ID)
			require.NoError(t, err)
			assert.Equal(t, []byte{4, 5}, img)

			_, err = repo.Image(ctx, "frame_99.jpg")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.Error(t, repo.Append(ctx, a), "duplicate id must be rejected")
		})
	}
}

func TestRepositoryFramesSkipsIncompleteEntries(t *testing.T) {
	for name, open := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open()

			require.NoError(t, repo.Append(ctx, sampleFrame(1, []byte{9})))
			require.NoError(t, repo.Append(ctx, sampleFrame(2, nil)))
			require.NoError(t, repo.Append(ctx, sampleFrame(3, []byte{7})))

			m, err := repo.Manifest(ctx)
			require.NoError(t, err)
			assert.Len(t, m.Frames, 3)

			frames, err := repo.Frames(ctx)
			require.NoError(t, err)
			require.Len(t, frames, 2)
			assert.Equal(t, "frame_1.jpg", frames[0].ID)
			assert.Equal(t, "frame_3.jpg", frames[1].ID)
			assert.Equal(t, []byte{7}, frames[1].Image)
		})
	}
}

func TestRepositoryLocationAndReset(t *testing.T) {
	for name, open := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open()

			fix := gps.Fix{Latitude: 53.36, Longitude: -6.5, Validity: "A"}
			require.NoError(t, repo.SetLocation(ctx, fix))
			require.NoError(t, repo.Append(ctx, sampleFrame(1, []byte{1})))

			before, err := repo.Manifest(ctx)
			require.NoError(t, err)
			require.NotNil(t, before.Location)
			assert.Equal(t, fix, *before.Location)

			id, err := repo.Reset(ctx)
			require.NoError(t, err)
			assert.NotEqual(t, before.SessionID, id)

			after, err := repo.Manifest(ctx)
			require.NoError(t, err)
			assert.Equal(t, id, after.SessionID)
			assert.Empty(t, after.Frames)
			assert.Nil(t, after.Location)

			frames, err := repo.Frames(ctx)
			require.NoError(t, err)
			assert.Empty(t, frames)
		})
	}
}

func TestRepositoryClosed(t *testing.T) {
	for name, open := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open()
			require.NoError(t, repo.Close())
			require.NoError(t, repo.Close())

			_, err := repo.Manifest(ctx)
			assert.ErrorIs(t, err, ErrClosed)
			assert.ErrorIs(t, repo.Append(ctx, sampleFrame(1, []byte{1})), ErrClosed)
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, sampleFrame(1, []byte{1, 1})))
	first, err := s.Manifest(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	second, err := s.Manifest(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("manifest changed across reopen (-want +got):\n%s", diff)
	}
}
