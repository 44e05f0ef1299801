// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !linux

package shm

import (
	"errors"

	"github.com/gogpu/sharedimage"
)

func newPlatformRegion(int) (sharedimage.SharedRegion, error) {
	return nil, errors.New("shm: no shareable memory on this platform")
}
