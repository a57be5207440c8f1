// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package multipart

import (
	"crypto/md5"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/staging"
)

// State is the lifecycle state of an upload session.
type State int

const (
	StateOpen State = iota
	StateCompleting
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCompleting:
		return "COMPLETING"
	case StateCompleted:
		return "COMPLETED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

func (s State) terminal() bool {
	return s == StateCompleted || s == StateAborted
}

type part struct {
	number   int
	staged   *staging.Staged
	modified time.Time
}

// upload is one session. mu guards state, parts and finished.
type upload struct {
	id           string
	bucket       backend.BucketInfo
	bucketKey    string
	bucketName   string
	key          string
	contentType  string
	userMetadata map[string]string
	initiated    time.Time

	mu       sync.Mutex
	state    State
	parts    map[int]*part
	finished time.Time
}

func (u *upload) summary() UploadSummary {
	u.mu.Lock()
	defer u.mu.Unlock()
	var size int64
	for _, p := range u.parts {
		size += p.staged.Size()
	}
	return UploadSummary{
		UploadID:  u.id,
		Bucket:    u.bucketName,
		Key:       u.key,
		State:     u.state.String(),
		Parts:     len(u.parts),
		Bytes:     size,
		Initiated: u.initiated,
	}
}

// sortedParts returns the parts in ascending part number. Callers hold mu.
func (u *upload) sortedParts() []*part {
	out := make([]*part, 0, len(u.parts))
	for _, p := range u.parts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].number < out[j].number })
	return out
}

// discardParts removes every staged part. Callers hold mu.
func (u *upload) discardParts() {
	for n, p := range u.parts {
		p.staged.Discard()
		delete(u.parts, n)
	}
}

// concatBlob presents the selected parts as one object body.
type concatBlob struct {
	parts []*staging.Staged
	size  int64
}

func newConcatBlob(parts []*staging.Staged) *concatBlob {
	b := &concatBlob{parts: parts}
	for _, p := range parts {
		b.size += p.Size()
	}
	return b
}

func (b *concatBlob) Size() int64 { return b.size }

func (b *concatBlob) Open() (io.ReadCloser, error) {
	mrc := &multiReadCloser{}
	readers := make([]io.Reader, 0, len(b.parts))
	for _, p := range b.parts {
		rc, err := p.Open()
		if err != nil {
			mrc.Close()
			return nil, err
		}
		mrc.closers = append(mrc.closers, rc)
		readers = append(readers, rc)
	}
	mrc.Reader = io.MultiReader(readers...)
	return mrc, nil
}

// etag is the S3 multipart ETag: the MD5 of the concatenated part MD5s,
// suffixed with the part count.
func (b *concatBlob) etag() string {
	h := md5.New()
	for _, p := range b.parts {
		h.Write(p.MD5())
	}
	return fmt.Sprintf(`"%x-%d"`, h.Sum(nil), len(b.parts))
}

type multiReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiReadCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
