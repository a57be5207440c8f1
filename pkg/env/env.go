// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package env

import (
	"strings"

	"github.com/spf13/viper"
)

const (
	Local      = "local"
	Production = "production"
	Testing    = "testing"
)

// Env is the deployment environment, read from the ENV key.
var Env = Local

// Load refreshes Env from viper. It is called once the configuration file
// has been merged so that a file value and the ENV variable both apply.
func Load() string {
	switch v := strings.ToLower(strings.TrimSpace(viper.GetString("env"))); v {
	case Production, Testing:
		Env = v
	default:
		Env = Local
	}
	return Env
}

func IsLocal() bool {
	return Env == Local
}
