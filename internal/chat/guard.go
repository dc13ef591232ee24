// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "sync/atomic"

// Guard is a single-slot request guard: at most one holder at a time.
// The zero value is ready to use.
type Guard struct {
	busy atomic.Bool
}

// TryAcquire takes the slot, reporting false if it is already held.
func (g *Guard) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Release frees the slot.
func (g *Guard) Release() {
	g.busy.Store(false)
}

// Busy reports whether the slot is held.
func (g *Guard) Busy() bool {
	return g.busy.Load()
}
