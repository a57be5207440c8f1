// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package data

import (
	"context"
	"io"
	"net/http"

	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3action"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/signature"
)

type Data struct {
	Ctx    context.Context
	Req    *http.Request
	S3Info *S3Info

	// Auth is the verified SigV4 signing context. Nil when the gateway runs
	// without credentials.
	Auth *signature.Result

	// VerifiedBody is set for aws-chunked requests. Handlers read from it
	// instead of Req.Body to get the decoded payload; for signed streaming
	// requests every chunk signature has been checked.
	VerifiedBody io.Reader
}

func NewData(ctx context.Context, req *http.Request) *Data {
	return &Data{
		Ctx:    ctx,
		Req:    req,
		S3Info: &S3Info{},
	}
}

type S3Info struct {
	Bucket    string
	Key       string
	Action    s3action.Action
	AccessKey string
}
