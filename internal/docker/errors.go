package docker

import "errors"

var (
	// ErrNotInitialized is returned by methods on a nil client.
	ErrNotInitialized = errors.New("docker: client not initialized")
	// ErrBuildFailed wraps a build the daemon reported as failed.
	ErrBuildFailed = errors.New("docker: image build failed")
)
