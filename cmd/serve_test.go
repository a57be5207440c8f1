// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOpts() ServeOpts {
	return ServeOpts{
		Port:             8014,
		DebugPort:        8015,
		Network:          "testnet",
		StagingCapacity:  "10GiB",
		RetryMaxAttempts: 5,
		RetryJitter:      0.2,
		IndexDriver:      "memory",
	}
}

func TestServeOpts_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*ServeOpts)
		wantErr string
	}{
		{name: "defaults", modify: func(*ServeOpts) {}},
		{name: "domain with path", modify: func(o *ServeOpts) { o.Domain = "s3.example.com/x" }, wantErr: "host name"},
		{name: "access key alone", modify: func(o *ServeOpts) { o.AccessKey = "AKID" }, wantErr: "set together"},
		{name: "secret key alone", modify: func(o *ServeOpts) { o.SecretKey = "secret" }, wantErr: "set together"},
		{name: "both keys", modify: func(o *ServeOpts) { o.AccessKey, o.SecretKey = "AKID", "secret" }},
		{name: "unknown network", modify: func(o *ServeOpts) { o.Network = "moonnet" }, wantErr: "unknown network"},
		{name: "bad port", modify: func(o *ServeOpts) { o.Port = 0 }, wantErr: "invalid port"},
		{name: "bad capacity", modify: func(o *ServeOpts) { o.StagingCapacity = "lots" }, wantErr: "staging_capacity"},
		{name: "no attempts", modify: func(o *ServeOpts) { o.RetryMaxAttempts = 0 }, wantErr: "retry_max_attempts"},
		{name: "jitter", modify: func(o *ServeOpts) { o.RetryJitter = 2 }, wantErr: "retry_jitter"},
		{name: "index driver", modify: func(o *ServeOpts) { o.IndexDriver = "etcd" }, wantErr: "index_driver"},
		{name: "negative rps", modify: func(o *ServeOpts) { o.RateLimitRPS = -1 }, wantErr: "rate_limit_rps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOpts()
			tt.modify(&o)
			err := o.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServeOpts_StagingCapacity(t *testing.T) {
	t.Parallel()

	o := validOpts()
	n, err := o.stagingCapacity()
	require.NoError(t, err)
	assert.EqualValues(t, 10<<30, n)

	o.StagingCapacity = "0"
	n, err = o.stagingCapacity()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestServeOpts_RetryPolicy(t *testing.T) {
	t.Parallel()

	o := validOpts()
	o.RetryBaseDelay = time.Second
	o.BackendTimeout = time.Minute
	p := o.retryPolicy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, time.Minute, p.AttemptTimeout)
}

func TestFlagLoader(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("region", "us-east-1", "")
	cmd.Flags().Int("port", 8014, "")
	require.NoError(t, viper.BindPFlags(cmd.Flags()))

	f := NewFlagLoader(cmd)
	assert.Equal(t, "us-east-1", f.String("region"))

	viper.Set("region", "eu-west-1")
	assert.Equal(t, "eu-west-1", f.String("region"))

	require.NoError(t, cmd.Flags().Set("region", "ap-south-1"))
	assert.Equal(t, "ap-south-1", f.String("region"))
	assert.Equal(t, 8014, f.Int("port"))
}
