// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/index"
	"github.com/LeeDigitalWorks/basins3/pkg/logger"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3err"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/utils"
	"github.com/LeeDigitalWorks/basins3/pkg/staging"
	pkgutils "github.com/LeeDigitalWorks/basins3/pkg/utils"
)

// maxReadAttempts bounds how often GetObject refreshes metadata for a key
// that keeps being rebound.
const maxReadAttempts = 3

// Config holds configuration for the object service
type Config struct {
	Backend Backend
	Index   *index.Index
	Stager  *staging.Stager
	// Locks serializes writes per key. It is shared with the multipart
	// service; nil creates a private one.
	Locks *pkgutils.KeyedMutex
}

// serviceImpl implements the Service interface
type serviceImpl struct {
	backend Backend
	index   *index.Index
	stager  *staging.Stager
	locks   *pkgutils.KeyedMutex
}

// NewService creates a new object service
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
		cfg.Locks = pkgutils.NewKeyedMutex()
	}
	return &serviceImpl{
		backend: cfg.Backend,
		index:   cfg.Index,
		stager:  cfg.Stager,
		locks:   cfg.Locks,
	}, nil
}

// LockKey is the keyed-mutex key of an object.
func LockKey(b backend.BucketInfo, key string) string {
	return b.Address.Hex() + "/" + key
}

func (s *serviceImpl) bucket(ctx context.Context, name string) (backend.BucketInfo, error) {
	b, err := s.index.Bucket(ctx, name)
	if err != nil {
		return backend.BucketInfo{}, fromBackend(ErrCodeNoSuchBucket, "bucket "+name, err)
	}
	return b, nil
}

func (s *serviceImpl) lock(ctx context.Context, b backend.BucketInfo, key string) (func(), error) {
	return s.locks.Lock(ctx, LockKey(b, key))
}

func isHexSHA256(v string) bool {
	if len(v) != 64 {
		return false
	}
	_, err := hex.DecodeString(v)
	return err == nil
}

func (s *serviceImpl) PutObject(ctx context.Context, req *PutObjectRequest) (*PutObjectResult, error) {
	var wantMD5 []byte
	if req.ContentMD5 != "" {
		d, err := base64.StdEncoding.DecodeString(req.ContentMD5)
		if err != nil || len(d) != md5.Size {
			return nil, &Error{Code: ErrCodeInvalidDigest, Message: "Content-MD5 " + req.ContentMD5}
		}
		wantMD5 = d
	}

	b, err := s.bucket(ctx, req.Bucket)
	if err != nil {
		return nil, err
	}

	staged, err := s.stager.Stage(ctx, req.Body, req.ContentLength, staging.Options{Checksum: req.Checksum.Algorithm})
	if err != nil {
		return nil, fromStaging(err)
	}
	defer staged.Discard()

	if wantMD5 != nil && !bytes.Equal(wantMD5, staged.MD5()) {
		return nil, &Error{Code: ErrCodeBadDigest, Message: "Content-MD5 does not match the body"}
	}
	if isHexSHA256(req.ContentSHA256) && !strings.EqualFold(req.ContentSHA256, staged.SHA256Hex()) {
		return nil, &Error{Code: ErrCodeSHA256Mismatch, Message: "x-amz-content-sha256 does not match the body"}
	}
	checksum, hasChecksum := staged.Checksum()
	if hasChecksum {
		want := req.Checksum.Value
		if want == "" && req.Trailers != nil {
			want = req.Trailers()[checksum.Algorithm.Header()]
		}
		if want != "" && want != checksum.Value {
			return nil, &Error{Code: ErrCodeChecksumMismatch, Message: checksum.Algorithm.Header() + " does not match the body"}
		}
	}

	unlock, err := s.lock(ctx, b, req.Key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	contentType := req.ContentType
	if contentType == "" {
		contentType = s3consts.DefaultContentType
	}
	info, err := s.backend.Put(ctx, b, req.Key, staged, backend.ObjectMeta{
		ETag:         staged.ETag(),
		ContentType:  contentType,
		UserMetadata: req.UserMetadata,
	})
	if err != nil {
		return nil, fromBackend(ErrCodeNoSuchBucket, "put "+req.Key, err)
	}
	s.index.ObjectWritten(ctx, b, info)

	logger.Ctx(ctx).Debug().
		Str("content_address", info.ContentAddress).
		Int64("size", info.Size).
		Msg("object committed")
	return &PutObjectResult{Object: info, Checksum: checksum}, nil
}

// stat resolves an object and evaluates the request's conditionals and
// range. Conditional requests and refresh re-read the metadata from the
// backend.
func (s *serviceImpl) stat(ctx context.Context, req *GetObjectRequest, refresh bool) (backend.BucketInfo, *GetObjectResult, error) {
	b, err := s.bucket(ctx, req.Bucket)
	if err != nil {
		return b, nil, err
	}

	var o backend.ObjectInfo
	if req.Conditions.IsZero() && !refresh {
		o, err = s.index.Object(ctx, b, req.Key)
	} else {
		o, err = s.index.RefreshObject(ctx, b, req.Key)
	}
	if err != nil {
		return b, nil, fromBackend(ErrCodeNoSuchKey, "key "+req.Key, err)
	}
	if cerr := req.Conditions.Check(o); cerr != nil {
		return b, &GetObjectResult{Object: o}, cerr
	}

	rng, err := ParseRange(req.Range, o.Size)
	if err != nil {
		return b, nil, err
	}
	return b, &GetObjectResult{Object: o, Range: rng}, nil
}

func (s *serviceImpl) HeadObject(ctx context.Context, req *GetObjectRequest) (*GetObjectResult, error) {
	_, res, err := s.stat(ctx, req, false)
	return res, err
}

// GetObject streams the object version its headers describe. When the key
// was rebound after the metadata was read, the metadata is refreshed and the
// read starts over.
func (s *serviceImpl) GetObject(ctx context.Context, req *GetObjectRequest) (*GetObjectResult, error) {
	for attempt := 0; ; attempt++ {
		b, res, err := s.stat(ctx, req, attempt > 0)
		if err != nil {
			return res, err
		}
		body, err := s.backend.Get(ctx, b, res.Object, res.Range)
		if err == nil {
			res.Body = body
			return res, nil
		}
		switch backend.KindOf(err) {
		case backend.KindNotFound:
			s.index.ObjectDeleted(ctx, b, req.Key)
		case backend.KindConflict:
			if attempt+1 < maxReadAttempts {
				logger.Ctx(ctx).Debug().Int("attempt", attempt).Msg("object rebound during read, refreshing")
				continue
			}
			return nil, &Error{Code: ErrCodeUnavailable, Message: "get " + req.Key + ": object keeps changing", Err: err}
		}
		return nil, fromBackend(ErrCodeNoSuchKey, "get "+req.Key, err)
	}
}

func (s *serviceImpl) DeleteObject(ctx context.Context, bucket, key string) error {
	b, err := s.bucket(ctx, bucket)
	if err != nil {
		return err
	}
	return s.deleteKey(ctx, b, key)
}

// deleteKey re-confirms key against the backend and removes it.
func (s *serviceImpl) deleteKey(ctx context.Context, b backend.BucketInfo, key string) error {
	unlock, err := s.lock(ctx, b, key)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := s.index.RefreshObject(ctx, b, key); err != nil {
		return fromBackend(ErrCodeNoSuchKey, "key "+key, err)
	}
	if err := s.backend.Delete(ctx, b, key); err != nil {
		if backend.KindOf(err) == backend.KindNotFound {
			s.index.ObjectDeleted(ctx, b, key)
		}
		return fromBackend(ErrCodeNoSuchKey, "delete "+key, err)
	}
	s.index.ObjectDeleted(ctx, b, key)

	logger.Ctx(ctx).Debug().Str("delete_key", key).Msg("object deleted")
	return nil
}

func (s *serviceImpl) DeleteObjects(ctx context.Context, req *DeleteObjectsRequest) (*DeleteObjectsResult, error) {
	b, err := s.bucket(ctx, req.Bucket)
	if err != nil {
		return nil, err
	}

	res := &DeleteObjectsResult{}
	for _, key := range req.Keys {
		if err := utils.ValidateObjectKey(key); err != nil {
			code := s3err.ErrInvalidArgument
			if errors.Is(err, utils.ErrKeyTooLong) {
				code = s3err.ErrKeyTooLong
			}
			res.Errors = append(res.Errors, DeleteError{Key: key, Err: code})
			continue
		}

		err := s.deleteKey(ctx, b, key)
		var oerr *Error
		switch {
		case err == nil:
			res.Deleted = append(res.Deleted, key)
		case errors.As(err, &oerr) && oerr.Code == ErrCodeNoSuchKey:
			// a batch delete of a missing key succeeds
			res.Deleted = append(res.Deleted, key)
		case isContextErr(err):
			return nil, err
		default:
			logger.Ctx(ctx).Warn().Err(err).Str("delete_key", key).Msg("batch delete failed for key")
			res.Errors = append(res.Errors, DeleteError{Key: key, Err: err})
		}
	}
	return res, nil
}

func (s *serviceImpl) CopyObject(ctx context.Context, req *CopyObjectRequest) (*CopyObjectResult, error) {
	if req.SrcBucket == req.DstBucket && req.SrcKey == req.DstKey && !req.ReplaceMetadata {
		return nil, &Error{
			Code:    ErrCodeInvalidCopyDest,
			Message: "copying an object to itself requires x-amz-metadata-directive REPLACE",
		}
	}

	srcBucket, err := s.bucket(ctx, req.SrcBucket)
	if err != nil {
		return nil, err
	}
	src, err := s.index.RefreshObject(ctx, srcBucket, req.SrcKey)
	if err != nil {
		return nil, fromBackend(ErrCodeNoSuchKey, "copy source "+req.SrcKey, err)
	}
	if cerr := req.SourceConditions.CheckCopySource(src); cerr != nil {
		return nil, cerr
	}

	dst, err := s.bucket(ctx, req.DstBucket)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, dst, req.DstKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	meta := backend.ObjectMeta{
		ETag:         src.ETag,
		ContentType:  src.ContentType,
		UserMetadata: src.UserMetadata,
	}
	if req.ReplaceMetadata {
		meta.ContentType = req.ContentType
		if meta.ContentType == "" {
			meta.ContentType = s3consts.DefaultContentType
		}
		meta.UserMetadata = req.UserMetadata
	}

	info, err := s.backend.Copy(ctx, src, dst, req.DstKey, meta)
	if err != nil {
		return nil, fromBackend(ErrCodeNoSuchBucket, "copy to "+req.DstKey, err)
	}
	s.index.ObjectWritten(ctx, dst, info)
	return &CopyObjectResult{Object: info}, nil
}
