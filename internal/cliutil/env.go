// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

// Package cliutil carries the small flag/environment helper cmd/bridge
// needs for optional settings, in the style of the teacher's
// utils.GetenvOrFailNow (that one fails the process when a required value
// is missing; bridge has no flag required on every invocation, so only
// the non-fatal overlay survives here).
package cliutil

import "os"

// GetenvOr fills *value from key when the flag was left unset, leaving
// *value untouched (its flag default) when key is also unset.
func GetenvOr(value *string, key string) {
	if *value != "" {
		return
	}
	if v := os.Getenv(key); v != "" {
		*value = v
	}
}
