// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import "context"

// Credentials resolves an access key to its secret.
type Credentials interface {
	SecretKey(ctx context.Context, accessKey string) (string, bool)
}

// StaticCredentials is a fixed access key to secret key table.
type StaticCredentials map[string]string

func (s StaticCredentials) SecretKey(_ context.Context, accessKey string) (string, bool) {
	secret, ok := s[accessKey]
	return secret, ok
}
