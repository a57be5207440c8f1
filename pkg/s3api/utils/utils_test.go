// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils_test

import (
	"strings"
	"testing"

	"github.com/LeeDigitalWorks/basins3/pkg/s3api/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUtils_ValidateBucketAlias(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		alias   string
		wantErr bool
	}{
		{"Valid", "my-bucket", false},
		{"ValidWithDots", "foo.bar", false},
		{"ValidDigits", "123", false},
		{"MaxLength", strings.Repeat("a", 20), false},
		{"Empty", "", true},
		{"TooShort", "ab", true},
		{"TooLong", strings.Repeat("a", 21), true},
		{"Uppercase", "MyBucket", true},
		{"Underscore", "my_bucket", true},
		{"ConsecutiveDots", "my..bucket", true},
		{"StartsWithDot", ".mybucket", true},
		{"EndsWithDot", "mybucket.", true},
		{"StartsWithHyphen", "-mybucket", true},
		{"EndsWithHyphen", "mybucket-", true},
		{"ContainsSpace", "my bucket", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := utils.ValidateBucketAlias(tt.alias)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBucketAlias(%q) error = %v, wantErr %v", tt.alias, err, tt.wantErr)
			}
		})
	}
}

func TestUtils_ParseBucketName(t *testing.T) {
	t.Parallel()

	t.Run("owner prefix with dotted alias", func(t *testing.T) {
		b, err := utils.ParseBucketName("0xe1209fb9aa2d08c8541297ec06ee6bbb63b10edc.foo.bar")
		require.NoError(t, err)
		assert.Equal(t, "foo.bar", b.Alias)
		assert.True(t, b.HasOwner())
		assert.True(t, strings.EqualFold("0xe1209fb9aa2d08c8541297ec06ee6bbb63b10edc", b.Owner))
	})

	t.Run("bare alias", func(t *testing.T) {
		b, err := utils.ParseBucketName("photos")
		require.NoError(t, err)
		assert.False(t, b.HasOwner())
		assert.Equal(t, "photos", b.String())
	})

	t.Run("owner without alias", func(t *testing.T) {
		_, err := utils.ParseBucketName("0xe1209fb9aa2d08c8541297ec06ee6bbb63b10edc")
		assert.ErrorIs(t, err, utils.ErrInvalidBucketName)

		_, err = utils.ParseBucketName("0xe1209fb9aa2d08c8541297ec06ee6bbb63b10edc.")
		assert.ErrorIs(t, err, utils.ErrInvalidBucketName)
	})

	t.Run("bad owner", func(t *testing.T) {
		_, err := utils.ParseBucketName("0x1234.foo")
		assert.ErrorIs(t, err, utils.ErrInvalidOwner)
	})
}

func TestUtils_ValidateObjectKey(t *testing.T) {
	t.Parallel()

	assert.NoError(t, utils.ValidateObjectKey("a/b/c.txt"))
	assert.ErrorIs(t, utils.ValidateObjectKey(""), utils.ErrInvalidObjectKey)
	assert.ErrorIs(t, utils.ValidateObjectKey("bad\xff"), utils.ErrInvalidObjectKey)
	assert.ErrorIs(t, utils.ValidateObjectKey(strings.Repeat("k", 1025)), utils.ErrKeyTooLong)
}
