// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sta

// State is a step of the controller's lifecycle. States only move forward.
type State int

const (
	Init State = iota
	LockAcquired
	DirAllocated
	InterfacePrepared
	Associating
	Running
	CleaningUp
	Terminated
)

var stateNames = [...]string{
	Init:              "INIT",
	LockAcquired:      "LOCK_ACQUIRED",
	DirAllocated:      "DIR_ALLOCATED",
	InterfacePrepared: "INTERFACE_PREPARED",
	Associating:       "ASSOCIATING",
	Running:           "RUNNING",
	CleaningUp:        "CLEANING_UP",
	Terminated:        "TERMINATED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}
