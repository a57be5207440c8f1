// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"
	"github.com/LeeDigitalWorks/basins3/pkg/utils"
)

// AWS chunked encoding format:
// <chunk-size-hex>;chunk-signature=<signature>\r\n
// <chunk-data>\r\n
// ... repeat ...
// 0;chunk-signature=<final-signature>\r\n
// [trailer-name:value\r\n ... x-amz-trailer-signature:<sig>\r\n]
// \r\n
//
// Unsigned bodies carry no ";chunk-signature=" extension.
//
// See: https://docs.aws.amazon.com/AmazonS3/latest/API/sigv4-streaming.html

var (
	ErrInvalidChunkFormat       = errors.New("invalid chunk format")
	ErrChunkSignatureMismatch   = errors.New("chunk signature mismatch")
	ErrChunkTooLarge            = errors.New("chunk size exceeds maximum")
	ErrTrailerSignatureMismatch = errors.New("trailer signature mismatch")
	ErrInvalidTrailerFormat     = errors.New("invalid trailer format")
)

const (
	// Maximum chunk size (64MB - same as AWS default)
	MaxChunkSize = 64 * 1024 * 1024

	chunkSignaturePrefix    = "chunk-signature="
	chunkSigningAlgorithm   = "AWS4-HMAC-SHA256-PAYLOAD"
	trailerSigningAlgorithm = "AWS4-HMAC-SHA256-TRAILER"
	trailerSignatureHeader  = "x-amz-trailer-signature"
)

// ChunkReaderConfig holds configuration for creating a ChunkReader
type ChunkReaderConfig struct {
	Body io.Reader
	// Auth is the verified seed request. Nil disables signature checks, which
	// is the case for unsigned trailers and for gateways running without
	// credentials.
	Auth *Result
}

// ChunkReader decodes an aws-chunked body and returns only the payload bytes.
// With a signing context every chunk is buffered and verified before any of
// its bytes are returned; without one the payload is streamed through.
type ChunkReader struct {
	reader     *bufio.Reader
	signingKey []byte
	timestamp  string
	credScope  string
	prevSig    string

	buf       bytes.Buffer // verified chunk data
	remaining int64        // unverified mode: bytes left in current chunk
	trailers  map[string]string
	eof       bool
	err       error
}

// NewChunkReader creates a new ChunkReader
func NewChunkReader(cfg ChunkReaderConfig) *ChunkReader {
	c := &ChunkReader{
		reader:   bufio.NewReaderSize(cfg.Body, 64*1024),
		trailers: make(map[string]string),
	}
	if cfg.Auth != nil && len(cfg.Auth.Timestamp) >= 8 {
		c.signingKey = cfg.Auth.SigningKey
		c.timestamp = cfg.Auth.Timestamp
		c.prevSig = cfg.Auth.SeedSignature
		c.credScope = fmt.Sprintf("%s/%s/%s/aws4_request", cfg.Auth.Timestamp[:8], cfg.Auth.Region, cfg.Auth.Service)
	}
	return c
}

func (c *ChunkReader) verifying() bool {
	return c.signingKey != nil
}

// Read implements io.Reader
func (c *ChunkReader) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	for {
		if c.buf.Len() > 0 {
			return c.buf.Read(p)
		}
		if c.remaining > 0 {
			return c.readStreaming(p)
		}
		if c.eof {
			return 0, io.EOF
		}
		if err := c.nextChunk(); err != nil {
			c.err = err
			return 0, err
		}
	}
}

func (c *ChunkReader) readStreaming(p []byte) (int, error) {
	n, err := c.reader.Read(p[:min(int64(len(p)), c.remaining)])
	c.remaining -= int64(n)
	if err == io.EOF && c.remaining > 0 {
		err = io.ErrUnexpectedEOF
	}
	if err != nil && err != io.EOF {
		c.err = err
		return n, err
	}
	if c.remaining == 0 {
		if err := c.readCRLF(); err != nil {
			c.err = err
			return n, err
		}
	}
	return n, nil
}

// nextChunk reads one chunk header and, when verifying, the whole chunk.
func (c *ChunkReader) nextChunk() error {
	line, err := c.readLine()
	if err != nil {
		return fmt.Errorf("reading chunk header: %w", err)
	}

	sizeStr, ext, _ := strings.Cut(line, ";")
	chunkSize, err := strconv.ParseInt(strings.TrimSpace(sizeStr), 16, 64)
	if err != nil || chunkSize < 0 {
		return fmt.Errorf("%w: invalid chunk size %q", ErrInvalidChunkFormat, sizeStr)
	}
	if chunkSize > MaxChunkSize {
		return ErrChunkTooLarge
	}

	var chunkSig string
	if c.verifying() {
		ext = strings.TrimSpace(ext)
		if !strings.HasPrefix(ext, chunkSignaturePrefix) {
			return fmt.Errorf("%w: missing chunk-signature", ErrInvalidChunkFormat)
		}
		chunkSig = strings.TrimPrefix(ext, chunkSignaturePrefix)
	}

	if chunkSize == 0 {
		if c.verifying() {
			if !constantTimeCompare(chunkSig, c.chunkSignature(s3consts.EmptySHA256)) {
				return ErrChunkSignatureMismatch
			}
			c.prevSig = chunkSig
		}
		if err := c.readTrailers(); err != nil {
			return err
		}
		c.eof = true
		return nil
	}

	if !c.verifying() {
		c.remaining = chunkSize
		return nil
	}

	c.buf.Reset()
	c.buf.Grow(int(chunkSize))
	hasher := utils.Sha256PoolGetHasher()
	defer utils.Sha256PoolPutHasher(hasher)

	if _, err := io.CopyN(io.MultiWriter(&c.buf, hasher), c.reader, chunkSize); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("reading chunk data: %w", err)
	}
	if err := c.readCRLF(); err != nil {
		return err
	}

	if !constantTimeCompare(chunkSig, c.chunkSignature(hex.EncodeToString(hasher.Sum(nil)))) {
		c.buf.Reset()
		return ErrChunkSignatureMismatch
	}
	c.prevSig = chunkSig
	return nil
}

func (c *ChunkReader) chunkSignature(chunkHash string) string {
	stringToSign := strings.Join([]string{
		chunkSigningAlgorithm,
		c.timestamp,
		c.credScope,
		c.prevSig,
		s3consts.EmptySHA256,
		chunkHash,
	}, "\n")
	return calculateSignature(c.signingKey, stringToSign)
}

// readTrailers consumes everything after the final chunk up to the blank
// line. A missing blank line at EOF is tolerated.
func (c *ChunkReader) readTrailers() error {
	var signed []string
	var trailerSig string
	for {
		line, err := c.readLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading trailer: %w", err)
		}
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return fmt.Errorf("%w: %q", ErrInvalidTrailerFormat, line)
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if name == trailerSignatureHeader {
			trailerSig = value
			continue
		}
		c.trailers[name] = value
		signed = append(signed, name+":"+value)
	}

	if !c.verifying() || (trailerSig == "" && len(signed) == 0) {
		return nil
	}
	if trailerSig == "" || len(signed) == 0 {
		return ErrInvalidTrailerFormat
	}

	sort.Strings(signed)
	h := utils.Sha256PoolGetHasher()
	h.Write([]byte(strings.Join(signed, "\n") + "\n"))
	trailerHash := hex.EncodeToString(h.Sum(nil))
	utils.Sha256PoolPutHasher(h)

	stringToSign := strings.Join([]string{
		trailerSigningAlgorithm,
		c.timestamp,
		c.credScope,
		c.prevSig,
		trailerHash,
	}, "\n")
	if !constantTimeCompare(trailerSig, calculateSignature(c.signingKey, stringToSign)) {
		return ErrTrailerSignatureMismatch
	}
	return nil
}

func (c *ChunkReader) readLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r"), nil
		}
		return "", err
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), nil
}

func (c *ChunkReader) readCRLF() error {
	line, err := c.readLine()
	if err != nil {
		return fmt.Errorf("reading chunk terminator: %w", err)
	}
	if line != "" {
		return fmt.Errorf("%w: data after chunk", ErrInvalidChunkFormat)
	}
	return nil
}

// Trailers returns the trailing headers (e.g. x-amz-checksum-crc32c). They
// are only populated once Read has returned io.EOF.
func (c *ChunkReader) Trailers() map[string]string {
	if !c.eof {
		return nil
	}
	return c.trailers
}
