// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package multipart

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/gateway/service/object"
	"github.com/LeeDigitalWorks/basins3/pkg/index"
	"github.com/LeeDigitalWorks/basins3/pkg/logger"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"
	"github.com/LeeDigitalWorks/basins3/pkg/staging"
	"github.com/LeeDigitalWorks/basins3/pkg/utils"

	"github.com/google/uuid"
)

const (
	DefaultMaxUploads = 1000
	DefaultRetention  = 10 * time.Minute
	DefaultMaxParts   = 1000
)

// Backend is the part of the backend adapter the multipart service uses.
type Backend interface {
	Put(ctx context.Context, b backend.BucketInfo, key string, blob backend.Blob, meta backend.ObjectMeta) (backend.ObjectInfo, error)
}

// Config holds configuration for the multipart service
type Config struct {
	Backend Backend
	Index   *index.Index
	Stager  *staging.Stager
	// Locks is shared with the object service so that Complete and
	// PutObject on one key are serialized.
	Locks *utils.KeyedMutex
	// MaxUploads caps sessions that are OPEN or COMPLETING.
	MaxUploads int
	// Retention is how long finished sessions are remembered.
	Retention time.Duration
	// MinPartSize applies to every part but the last at Complete. Zero
	// means s3consts.MinPartSize.
	MinPartSize int64
}

// serviceImpl implements the Service interface
type serviceImpl struct {
	backend     Backend
	index       *index.Index
	stager      *staging.Stager
	locks       *utils.KeyedMutex
	maxUploads  int
	retention   time.Duration
	minPartSize int64
	now         func() time.Time

	// mu is never taken while an upload's mu is held.
	mu      sync.Mutex
	uploads map[string]*upload
	open    atomic.Int64
}

// NewService creates a new multipart service
func NewService(cfg Config) (Service, error) {
	if cfg.Backend == nil {
		return nil, errors.New("Backend is required")
	}
	if cfg.Index == nil {
		return nil, errors.New("Index is required")
	}
	if cfg.Stager == nil {
		return nil, errors.New("Stager is required")
	}
	if cfg.Locks == nil {
		cfg.Locks = utils.NewKeyedMutex()
	}
	if cfg.MaxUploads <= 0 {
		cfg.MaxUploads = DefaultMaxUploads
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.MinPartSize <= 0 {
		cfg.MinPartSize = s3consts.MinPartSize
	}
	return &serviceImpl{
		backend:     cfg.Backend,
		index:       cfg.Index,
		stager:      cfg.Stager,
		locks:       cfg.Locks,
		maxUploads:  cfg.MaxUploads,
		retention:   cfg.Retention,
		minPartSize: cfg.MinPartSize,
		now:         time.Now,
		uploads:     make(map[string]*upload),
	}, nil
}

// pruneLocked forgets sessions that finished more than retention ago.
// Callers hold s.mu.
func (s *serviceImpl) pruneLocked() {
	cutoff := s.now().Add(-s.retention)
	for id, u := range s.uploads {
		u.mu.Lock()
		expired := u.state.terminal() && u.finished.Before(cutoff)
		u.mu.Unlock()
		if expired {
			delete(s.uploads, id)
		}
	}
}

// finishLocked moves u to a terminal state. Callers hold u.mu.
func (s *serviceImpl) finishLocked(u *upload, state State) {
	if u.state.terminal() {
		return
	}
	u.state = state
	u.finished = s.now()
	u.discardParts()

	s.open.Add(-1)
	openSessions.Dec()
	sessionsFinished.WithLabelValues(state.String()).Inc()
}

// lookup finds a session addressed to bucket/key. Sessions of another
// object are reported as missing.
func (s *serviceImpl) lookup(bucket, key, id string) (*upload, error) {
	bucketKey, err := s.index.BucketKey(bucket)
	if err != nil {
		return nil, fromBackend("bucket "+bucket, err)
	}
	s.mu.Lock()
	s.pruneLocked()
	u, ok := s.uploads[id]
	s.mu.Unlock()
	if !ok || u.bucketKey != bucketKey || u.key != key {
		return nil, noSuchUpload(id)
	}
	return u, nil
}

func (s *serviceImpl) CreateUpload(ctx context.Context, req *CreateUploadRequest) (*CreateUploadResult, error) {
	b, err := s.index.Bucket(ctx, req.Bucket)
	if err != nil {
		return nil, fromBackend("bucket "+req.Bucket, err)
	}
	bucketKey, err := s.index.BucketKey(req.Bucket)
	if err != nil {
		return nil, fromBackend("bucket "+req.Bucket, err)
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = s3consts.DefaultContentType
	}
	u := &upload{
		id:           uuid.NewString(),
		bucket:       b,
		bucketKey:    bucketKey,
		bucketName:   req.Bucket,
		key:          req.Key,
		contentType:  contentType,
		userMetadata: req.UserMetadata,
		initiated:    s.now().UTC(),
		parts:        make(map[int]*part),
	}

	s.mu.Lock()
	s.pruneLocked()
	if s.open.Load() >= int64(s.maxUploads) {
		s.mu.Unlock()
		return nil, &Error{Code: ErrCodeTooManyUploads, Message: "too many multipart uploads in progress"}
	}
	s.uploads[u.id] = u
	s.open.Add(1)
	s.mu.Unlock()
	openSessions.Inc()

	logger.Ctx(ctx).Debug().Str("upload_id", u.id).Msg("multipart upload created")
	return &CreateUploadResult{UploadID: u.id}, nil
}

func (s *serviceImpl) UploadPart(ctx context.Context, req *UploadPartRequest) (*UploadPartResult, error) {
	if req.PartNumber < 1 || req.PartNumber > s3consts.MaxPartID {
		return nil, &Error{Code: ErrCodeInvalidPartNumber, Message: "part number must be between 1 and 10000"}
	}
	var wantMD5 []byte
	if req.ContentMD5 != "" {
		d, err := base64.StdEncoding.DecodeString(req.ContentMD5)
		if err != nil || len(d) != md5.Size {
			return nil, &Error{Code: ErrCodeInvalidDigest, Message: "Content-MD5 " + req.ContentMD5}
		}
		wantMD5 = d
	}

	u, err := s.lookup(req.Bucket, req.Key, req.UploadID)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	open := u.state == StateOpen
	u.mu.Unlock()
	if !open {
		return nil, noSuchUpload(req.UploadID)
	}

	staged, err := s.stager.StagePart(ctx, u.id, req.PartNumber, req.Body, req.ContentLength, staging.Options{})
	if err != nil {
		return nil, fromStaging(err)
	}
	if wantMD5 != nil && !bytes.Equal(wantMD5, staged.MD5()) {
		staged.Discard()
		return nil, &Error{Code: ErrCodeBadDigest, Message: "Content-MD5 does not match the part"}
	}
	if sha := req.ContentSHA256; len(sha) == 64 && !strings.EqualFold(sha, staged.SHA256Hex()) {
		if _, err := hex.DecodeString(sha); err == nil {
			staged.Discard()
			return nil, &Error{Code: ErrCodeSHA256Mismatch, Message: "x-amz-content-sha256 does not match the part"}
		}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	// the session may have finished while the part was staged
	if u.state != StateOpen {
		staged.Discard()
		return nil, noSuchUpload(req.UploadID)
	}
	if old, ok := u.parts[req.PartNumber]; ok {
		old.staged.Discard()
	}
	u.parts[req.PartNumber] = &part{
		number:   req.PartNumber,
		staged:   staged,
		modified: s.now().UTC(),
	}
	return &UploadPartResult{ETag: staged.ETag()}, nil
}

// validate checks the client part list against the session's parts and
// returns the staged parts to concatenate.
func (s *serviceImpl) validate(u *upload, entries []PartEntry) ([]*staging.Staged, *Error) {
	if len(entries) == 0 {
		return nil, &Error{Code: ErrCodeInvalidPart, Message: "at least one part is required"}
	}
	selected := make([]*staging.Staged, 0, len(entries))
	for i, e := range entries {
		if i > 0 && e.PartNumber <= entries[i-1].PartNumber {
			return nil, &Error{Code: ErrCodeInvalidPartOrder, Message: "parts must be listed in ascending order"}
		}
		p, ok := u.parts[e.PartNumber]
		if !ok || strings.Trim(e.ETag, `"`) != p.staged.MD5Hex() {
			return nil, &Error{Code: ErrCodeInvalidPart, Message: "part " + strings.Trim(e.ETag, `"`) + " was not uploaded"}
		}
		selected = append(selected, p.staged)
	}
	for _, st := range selected[:len(selected)-1] {
		if st.Size() < s.minPartSize {
			return nil, &Error{Code: ErrCodeEntityTooSmall, Message: "every part but the last must be at least 5 MiB"}
		}
	}
	return selected, nil
}

func (s *serviceImpl) CompleteUpload(ctx context.Context, req *CompleteUploadRequest) (*CompleteUploadResult, error) {
	u, err := s.lookup(req.Bucket, req.Key, req.UploadID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, object.LockKey(u.bucket, u.key))
	if err != nil {
		return nil, err
	}
	defer unlock()

	u.mu.Lock()
	if u.state != StateOpen {
		u.mu.Unlock()
		return nil, noSuchUpload(req.UploadID)
	}
	selected, verr := s.validate(u, req.Parts)
	if verr != nil {
		u.mu.Unlock()
		completeFailures.WithLabelValues("validation").Inc()
		return nil, verr
	}
	u.state = StateCompleting
	u.mu.Unlock()

	blob := newConcatBlob(selected)
	info, err := s.backend.Put(ctx, u.bucket, u.key, blob, backend.ObjectMeta{
		ETag:         blob.etag(),
		ContentType:  u.contentType,
		UserMetadata: u.userMetadata,
	})

	u.mu.Lock()
	defer u.mu.Unlock()
	if err != nil {
		if u.state == StateAborted {
			// aborted while completing; the parts are ours to remove
			u.discardParts()
			return nil, noSuchUpload(req.UploadID)
		}
		u.state = StateOpen
		completeFailures.WithLabelValues("backend").Inc()
		logger.Ctx(ctx).Warn().Err(err).Str("upload_id", u.id).Msg("multipart commit failed, upload reopened")
		return nil, fromBackend("complete "+u.key, err)
	}

	s.index.ObjectWritten(ctx, u.bucket, info)
	if u.state == StateAborted {
		u.discardParts()
	} else {
		s.finishLocked(u, StateCompleted)
	}

	logger.Ctx(ctx).Info().
		Str("upload_id", u.id).
		Int("parts", len(selected)).
		Int64("size", info.Size).
		Msg("multipart upload completed")
	return &CompleteUploadResult{ETag: info.ETag, Size: info.Size}, nil
}

func (s *serviceImpl) AbortUpload(ctx context.Context, bucket, key, uploadID string) error {
	u, err := s.lookup(bucket, key, uploadID)
	if err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	switch u.state {
	case StateOpen:
		s.finishLocked(u, StateAborted)
	case StateCompleting:
		// the completer owns the part files until its commit returns
		u.state = StateAborted
		u.finished = s.now()
		s.open.Add(-1)
		openSessions.Dec()
		sessionsFinished.WithLabelValues(StateAborted.String()).Inc()
	}

	logger.Ctx(ctx).Debug().Str("upload_id", uploadID).Msg("multipart upload aborted")
	return nil
}

func (s *serviceImpl) ListParts(ctx context.Context, req *ListPartsRequest) (*ListPartsResult, error) {
	u, err := s.lookup(req.Bucket, req.Key, req.UploadID)
	if err != nil {
		return nil, err
	}
	maxParts := req.MaxParts
	if maxParts <= 0 || maxParts > DefaultMaxParts {
		maxParts = DefaultMaxParts
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != StateOpen {
		return nil, noSuchUpload(req.UploadID)
	}

	res := &ListPartsResult{}
	for _, p := range u.sortedParts() {
		if p.number <= req.PartNumberMarker {
			continue
		}
		if len(res.Parts) == maxParts {
			res.IsTruncated = true
			break
		}
		res.Parts = append(res.Parts, PartInfo{
			PartNumber:   p.number,
			ETag:         p.staged.ETag(),
			Size:         p.staged.Size(),
			LastModified: p.modified,
		})
	}
	if res.IsTruncated {
		res.NextPartNumberMarker = res.Parts[len(res.Parts)-1].PartNumber
	}
	return res, nil
}

func (s *serviceImpl) ListUploads(ctx context.Context, req *ListUploadsRequest) (*ListUploadsResult, error) {
	if _, err := s.index.Bucket(ctx, req.Bucket); err != nil {
		return nil, fromBackend("bucket "+req.Bucket, err)
	}
	bucketKey, err := s.index.BucketKey(req.Bucket)
	if err != nil {
		return nil, fromBackend("bucket "+req.Bucket, err)
	}
	maxUploads := req.MaxUploads
	if maxUploads <= 0 || maxUploads > DefaultMaxParts {
		maxUploads = DefaultMaxParts
	}

	var open []UploadSummary
	s.mu.Lock()
	for _, u := range s.uploads {
		if u.bucketKey != bucketKey || !strings.HasPrefix(u.key, req.Prefix) {
			continue
		}
		if sum := u.summary(); sum.State == StateOpen.String() {
			open = append(open, sum)
		}
	}
	s.mu.Unlock()

	sort.Slice(open, func(i, j int) bool {
		if open[i].Key != open[j].Key {
			return open[i].Key < open[j].Key
		}
		if !open[i].Initiated.Equal(open[j].Initiated) {
			return open[i].Initiated.Before(open[j].Initiated)
		}
		return open[i].UploadID < open[j].UploadID
	})

	res := &ListUploadsResult{}
	for _, sum := range open {
		if req.KeyMarker != "" {
			if sum.Key < req.KeyMarker {
				continue
			}
			if sum.Key == req.KeyMarker && (req.UploadIDMarker == "" || sum.UploadID <= req.UploadIDMarker) {
				continue
			}
		}
		if len(res.Uploads) == maxUploads {
			res.IsTruncated = true
			break
		}
		res.Uploads = append(res.Uploads, sum)
	}
	if res.IsTruncated {
		last := res.Uploads[len(res.Uploads)-1]
		res.NextKeyMarker = last.Key
		res.NextUploadIDMarker = last.UploadID
	}
	return res, nil
}

func (s *serviceImpl) Snapshot() []UploadSummary {
	s.mu.Lock()
	uploads := make([]*upload, 0, len(s.uploads))
	for _, u := range s.uploads {
		uploads = append(uploads, u)
	}
	s.mu.Unlock()

	out := make([]UploadSummary, 0, len(uploads))
	for _, u := range uploads {
		out = append(out, u.summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Initiated.Before(out[j].Initiated) })
	return out
}

func (s *serviceImpl) Close() error {
	s.mu.Lock()
	uploads := make([]*upload, 0, len(s.uploads))
	for _, u := range s.uploads {
		uploads = append(uploads, u)
	}
	s.mu.Unlock()

	for _, u := range uploads {
		u.mu.Lock()
		if u.state == StateOpen {
			s.finishLocked(u, StateAborted)
		}
		u.mu.Unlock()
	}
	return nil
}
