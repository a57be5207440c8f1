// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package staging

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStager(t *testing.T, cfg Config) *Stager {
	t.Helper()
	cfg.Dir = t.TempDir()
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func dirEntries(t *testing.T, s *Stager) []string {
	t.Helper()
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestStage(t *testing.T) {
	t.Parallel()
	s := newTestStager(t, Config{})

	st, err := s.Stage(context.Background(), strings.NewReader("hello world"), 11, Options{})
	require.NoError(t, err)

	assert.Equal(t, int64(11), st.Size())
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", st.MD5Hex())
	assert.Equal(t, `"5eb63bbbe01eeed093cb22bb8f5acdc3"`, st.ETag())
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", st.SHA256Hex())
	assert.True(t, strings.HasPrefix(filepath.Base(st.Path()), ".upload-"))
	assert.Equal(t, int64(11), s.InUse())

	rc, err := st.Open()
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	require.NoError(t, st.Discard())
	require.NoError(t, st.Discard())
	assert.Empty(t, dirEntries(t, s))
	assert.Zero(t, s.InUse())
}

func TestStage_Failures(t *testing.T) {
	t.Parallel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	boom := errors.New("connection reset")

	tests := []struct {
		name     string
		cfg      Config
		ctx      context.Context
		body     io.Reader
		declared int64
		wantErr  error
	}{
		{
			name:     "incomplete body",
			body:     strings.NewReader("short"),
			declared: 20,
			wantErr:  ErrIncompleteBody,
		},
		{
			name:     "declared too large",
			cfg:      Config{MaxSize: 10},
			body:     strings.NewReader("01234567890"),
			declared: 11,
			wantErr:  ErrEntityTooLarge,
		},
		{
			name:     "unknown length too large",
			cfg:      Config{MaxSize: 10},
			body:     strings.NewReader("01234567890"),
			declared: -1,
			wantErr:  ErrEntityTooLarge,
		},
		{
			name:     "transport error",
			body:     io.MultiReader(strings.NewReader("abc"), iotest.ErrReader(boom)),
			declared: 10,
			wantErr:  boom,
		},
		{
			name:     "canceled",
			ctx:      canceled,
			body:     strings.NewReader("abc"),
			declared: 3,
			wantErr:  context.Canceled,
		},
		{
			name:     "over capacity",
			cfg:      Config{Capacity: 4},
			body:     strings.NewReader("abcdef"),
			declared: 6,
			wantErr:  ErrCapacity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestStager(t, tt.cfg)
			ctx := tt.ctx
			if ctx == nil {
				ctx = context.Background()
			}

			st, err := s.Stage(ctx, tt.body, tt.declared, Options{})
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, st)
			assert.Empty(t, dirEntries(t, s), "failed stage must not leave files")
			assert.Zero(t, s.InUse())
		})
	}
}

func TestStage_CapacityIsReleased(t *testing.T) {
	t.Parallel()
	s := newTestStager(t, Config{Capacity: 10})
	ctx := context.Background()

	first, err := s.Stage(ctx, strings.NewReader("12345678"), 8, Options{})
	require.NoError(t, err)

	_, err = s.Stage(ctx, strings.NewReader("12345"), 5, Options{})
	assert.ErrorIs(t, err, ErrCapacity)

	require.NoError(t, first.Discard())
	second, err := s.Stage(ctx, strings.NewReader("12345"), 5, Options{})
	require.NoError(t, err)
	defer second.Discard()
	assert.Equal(t, int64(5), s.InUse())
}

func TestStage_UnknownLength(t *testing.T) {
	t.Parallel()
	s := newTestStager(t, Config{Capacity: 4 << 20})

	st, err := s.Stage(context.Background(), strings.NewReader("streamed body"), -1, Options{})
	require.NoError(t, err)
	defer st.Discard()

	assert.Equal(t, int64(13), st.Size())
	assert.Equal(t, int64(13), s.InUse())
}

func TestStage_Checksums(t *testing.T) {
	t.Parallel()

	tests := []struct {
		alg  s3types.ChecksumAlgorithm
		want string
	}{
		{s3types.ChecksumAlgorithmCRC32, "DUoRhQ=="},
		{s3types.ChecksumAlgorithmSHA256, "uU0nuZNNPgilLlLX2n2r+sSE7+N6U4DukIj3rOLvzek="},
	}
	for _, tt := range tests {
		t.Run(tt.alg.String(), func(t *testing.T) {
			t.Parallel()
			s := newTestStager(t, Config{})
			st, err := s.Stage(context.Background(), strings.NewReader("hello world"), 11, Options{Checksum: tt.alg})
			require.NoError(t, err)
			defer st.Discard()

			got, ok := st.Checksum()
			require.True(t, ok)
			assert.Equal(t, tt.alg, got.Algorithm)
			assert.Equal(t, tt.want, got.Value)
		})
	}

	t.Run("none", func(t *testing.T) {
		s := newTestStager(t, Config{})
		st, err := s.Stage(context.Background(), strings.NewReader("x"), 1, Options{})
		require.NoError(t, err)
		defer st.Discard()
		_, ok := st.Checksum()
		assert.False(t, ok)
	})
}

func TestStagePart(t *testing.T) {
	t.Parallel()
	s := newTestStager(t, Config{})

	st, err := s.StagePart(context.Background(), "abc-123", 7, strings.NewReader("part"), 4, Options{})
	require.NoError(t, err)
	defer st.Discard()
	assert.True(t, strings.HasPrefix(filepath.Base(st.Path()), ".upload-abc-123.part-7-"))
}
