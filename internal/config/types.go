// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

// Status represents the outcome of a definitions reload.
type Status uint8

const (
	// StatusOK indicates the definitions were loaded into the repository.
	StatusOK Status = 1 << iota
	// StatusInvalid indicates the definitions were rejected and the repository kept its content.
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Update describes one reload attempt.
type Update struct {
	// Files are the definition files that were read, sorted by path.
	Files []string
	// Readings is the number of definitions in the repository after the reload.
	Readings int
	Status   Status
	// Err is set when Status is StatusInvalid.
	Err error
}

// Filters includes optional parameters to filter updates.
type Filters struct {
	// Bitmask of statuses to watch for e.g. StatusOK | StatusInvalid.
	// If unset, defaults to StatusOK.
	Status Status
}

// Loader keeps a repository in sync with a source of definition documents.
type Loader interface {
	// Files returns the definition files of the last successful load.
	Files() []string
	// Watch returns a channel that receives an Update after every reload
	// attempt matching filters. Each invocation returns a separate channel.
	//
	// The channel is closed once Close is called. If the loader is closed,
	// Watch returns a nil channel.
	Watch(filters Filters) <-chan Update
	// Close stops the loader. Calling Close more than once returns the error
	// of the first call.
	Close() error
}
