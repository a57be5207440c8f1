// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package cmd implements the basins3 command line.
package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// FlagLoader reads configuration with CLI flag precedence. A flag set on
// the command line wins; otherwise viper's env > config file > default
// order applies.
type FlagLoader struct {
	cmd *cobra.Command
}

func NewFlagLoader(cmd *cobra.Command) *FlagLoader {
	return &FlagLoader{cmd: cmd}
}

func (f *FlagLoader) changed(name string) bool {
	return f.cmd.Flags().Changed(name)
}

func (f *FlagLoader) String(name string) string {
	if f.changed(name) {
		v, _ := f.cmd.Flags().GetString(name)
		return v
	}
	return viper.GetString(name)
}

func (f *FlagLoader) Int(name string) int {
	if f.changed(name) {
		v, _ := f.cmd.Flags().GetInt(name)
		return v
	}
	return viper.GetInt(name)
}

func (f *FlagLoader) Float64(name string) float64 {
	if f.changed(name) {
		v, _ := f.cmd.Flags().GetFloat64(name)
		return v
	}
	return viper.GetFloat64(name)
}

func (f *FlagLoader) Bool(name string) bool {
	if f.changed(name) {
		v, _ := f.cmd.Flags().GetBool(name)
		return v
	}
	return viper.GetBool(name)
}

func (f *FlagLoader) Duration(name string) time.Duration {
	if f.changed(name) {
		v, _ := f.cmd.Flags().GetDuration(name)
		return v
	}
	return viper.GetDuration(name)
}
