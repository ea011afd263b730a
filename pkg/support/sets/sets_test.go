// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := Make[int](10)
	assert.Len(t, s, 0)
	s.Insert(3, 7)
	s.Insert(3)
	assert.Len(t, s, 2)
	assert.True(t, s.Has(3))
	assert.True(t, s.Has(7))
	assert.False(t, s.Has(5))

	handles := Make[uintptr]()
	handles.Insert(0x10040)
	assert.True(t, handles.Has(0x10040))
}
