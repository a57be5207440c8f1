// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package staging spools request bodies to local files while computing their
// digests, so a body can be verified before anything is sent to the network
// and re-read for every commit attempt.
package staging

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/LeeDigitalWorks/basins3/pkg/logger"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3types"
	"github.com/LeeDigitalWorks/basins3/pkg/utils"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

var (
	// ErrIncompleteBody means fewer bytes arrived than were declared.
	ErrIncompleteBody = errors.New("request body shorter than declared length")
	// ErrEntityTooLarge means the body exceeds the staging size limit.
	ErrEntityTooLarge = errors.New("request body exceeds maximum object size")
	// ErrCapacity means the staging directory has no room for the body.
	ErrCapacity = errors.New("staging capacity exhausted")
)

const DefaultDir = "~/.s3-basin"

// Config configures a Stager.
type Config struct {
	Dir string
	// Capacity bounds the bytes staged at once. Zero is unlimited.
	Capacity int64
	// MaxSize bounds a single body. Zero means s3consts.MaxObjectSize.
	MaxSize int64
}

// Stager owns the staging directory and its capacity accounting.
type Stager struct {
	dir      string
	capacity int64
	maxSize  int64

	mu    sync.Mutex
	inUse int64
}

func New(cfg Config) (*Stager, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = DefaultDir
	}
	dir = utils.ResolvePath(dir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = s3consts.MaxObjectSize
	}
	return &Stager{dir: dir, capacity: cfg.Capacity, maxSize: maxSize}, nil
}

// Dir returns the resolved staging directory.
func (s *Stager) Dir() string {
	return s.dir
}

// InUse returns the bytes currently reserved by staged files.
func (s *Stager) InUse() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}

func (s *Stager) reserve(n int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capacity > 0 && s.inUse+n > s.capacity {
		return false
	}
	s.inUse += n
	stagingBytes.Set(float64(s.inUse))
	return true
}

func (s *Stager) release(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inUse -= n
	stagingBytes.Set(float64(s.inUse))
}

// Options tune one Stage call.
type Options struct {
	// Checksum additionally computes a flexible checksum.
	Checksum s3types.ChecksumAlgorithm
}

// Stage copies exactly declared bytes of body to a new staged file. A
// negative declared length reads to EOF. On error nothing is left behind.
func (s *Stager) Stage(ctx context.Context, body io.Reader, declared int64, opts Options) (*Staged, error) {
	return s.stage(ctx, ".upload-"+uuid.NewString(), body, declared, opts)
}

// StagePart stages one multipart part under a name derived from the upload
// and part number. A retried part gets a fresh file; the caller discards the
// one it replaces.
func (s *Stager) StagePart(ctx context.Context, uploadID string, partNumber int, body io.Reader, declared int64, opts Options) (*Staged, error) {
	name := ".upload-" + uploadID + ".part-" + strconv.Itoa(partNumber) + "-" + uuid.NewString()[:8]
	return s.stage(ctx, name, body, declared, opts)
}

func (s *Stager) stage(ctx context.Context, name string, body io.Reader, declared int64, opts Options) (_ *Staged, err error) {
	if declared > s.maxSize {
		return nil, ErrEntityTooLarge
	}
	if declared > 0 && !s.reserve(declared) {
		stagingRejected.Inc()
		return nil, ErrCapacity
	}
	reserved := max(declared, 0)

	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		s.release(reserved)
		return nil, fmt.Errorf("create staged file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
			s.release(reserved)
		}
	}()

	if err := preallocate(f, declared); err != nil {
		stagingRejected.Inc()
		return nil, fmt.Errorf("%w: %v", ErrCapacity, err)
	}

	md5h := utils.Md5PoolGetHasher()
	defer utils.Md5PoolPutHasher(md5h)
	shah := utils.Sha256PoolGetHasher()
	defer utils.Sha256PoolPutHasher(shah)
	writers := []io.Writer{f, md5h, shah}
	extra := newChecksumHash(opts.Checksum)
	if extra != nil {
		writers = append(writers, extra)
	}

	limit := s.maxSize + 1
	if declared >= 0 {
		limit = declared
	}
	src := io.LimitReader(&ctxReader{ctx: ctx, r: body}, limit)

	var dst io.Writer = io.MultiWriter(writers...)
	if declared < 0 {
		dst = &reservingWriter{w: dst, s: s, reserved: &reserved}
	}

	buf := utils.GetCopyBuffer()
	n, err := io.CopyBuffer(dst, src, *buf)
	utils.PutCopyBuffer(buf)
	if err != nil {
		if errors.Is(err, ErrCapacity) {
			stagingRejected.Inc()
		}
		return nil, err
	}
	switch {
	case declared >= 0 && n < declared:
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrIncompleteBody, n, declared)
	case n > s.maxSize:
		return nil, ErrEntityTooLarge
	}
	// an unknown length was over-reserved in chunks
	if reserved > n {
		s.release(reserved - n)
		reserved = n
	}

	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync staged file: %w", err)
	}
	dropCache(f)
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close staged file: %w", err)
	}

	st := &Staged{
		stager: s,
		path:   path,
		size:   n,
	}
	copy(st.md5[:], md5h.Sum(nil))
	copy(st.sha256[:], shah.Sum(nil))
	if extra != nil {
		st.checksum = s3types.ExpectedChecksum{
			Algorithm: opts.Checksum,
			Value:     base64.StdEncoding.EncodeToString(extra.Sum(nil)),
		}
	}

	logger.Ctx(ctx).Debug().
		Str("path", path).
		Str("size", humanize.IBytes(uint64(n))).
		Msg("body staged")
	return st, nil
}

func newChecksumHash(alg s3types.ChecksumAlgorithm) hash.Hash {
	switch alg {
	case s3types.ChecksumAlgorithmCRC32:
		return crc32.NewIEEE()
	case s3types.ChecksumAlgorithmCRC32C:
		return utils.NewCrc32c()
	case s3types.ChecksumAlgorithmCRC64NVMe:
		return crc64Hash{utils.Crc64nvmePoolGetHasher()}
	case s3types.ChecksumAlgorithmSHA256:
		return utils.Sha256PoolGetHasher()
	default:
		return nil
	}
}

// crc64Hash renders the 64-bit sum big-endian, as S3 expects.
type crc64Hash struct {
	hash.Hash64
}

func (c crc64Hash) Sum(b []byte) []byte {
	return binary.BigEndian.AppendUint64(b, c.Sum64())
}

// reservingWriter reserves capacity as bytes of an unknown-length body
// arrive.
type reservingWriter struct {
	w        io.Writer
	s        *Stager
	reserved *int64
	n        int64
}

const reserveChunk = 1 << 20

func (r *reservingWriter) Write(p []byte) (int, error) {
	need := int64(len(p))
	for *r.reserved < r.n+need {
		if !r.s.reserve(reserveChunk) {
			return 0, ErrCapacity
		}
		*r.reserved += reserveChunk
	}
	n, err := r.w.Write(p)
	r.n += int64(n)
	return n, err
}

// ctxReader fails reads once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Staged is a body spooled to disk. Discard must be called by the owner.
type Staged struct {
	stager   *Stager
	path     string
	size     int64
	md5      [16]byte
	sha256   [32]byte
	checksum s3types.ExpectedChecksum

	once sync.Once
}

func (s *Staged) Size() int64 { return s.size }

func (s *Staged) Path() string { return s.path }

// MD5 returns the raw MD5 digest.
func (s *Staged) MD5() []byte { return s.md5[:] }

func (s *Staged) MD5Hex() string { return hex.EncodeToString(s.md5[:]) }

// ETag is the quoted hex MD5.
func (s *Staged) ETag() string { return `"` + s.MD5Hex() + `"` }

func (s *Staged) SHA256Hex() string { return hex.EncodeToString(s.sha256[:]) }

// Checksum returns the flexible checksum requested in Options, if any.
func (s *Staged) Checksum() (s3types.ExpectedChecksum, bool) {
	return s.checksum, s.checksum.Algorithm != s3types.ChecksumAlgorithmNone
}

// Open re-reads the staged bytes.
func (s *Staged) Open() (io.ReadCloser, error) {
	return os.Open(s.path)
}

// Discard removes the file and releases its capacity. It is safe to call
// more than once.
func (s *Staged) Discard() error {
	var err error
	s.once.Do(func() {
		err = os.Remove(s.path)
		if errors.Is(err, os.ErrNotExist) {
			err = nil
		}
		s.stager.release(s.size)
	})
	return err
}
