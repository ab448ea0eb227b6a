package cmd

import "context"

// SystemValidator provides system validation capabilities for commands.
type SystemValidator interface {
	SystemRequirements(ctx context.Context) error
	Directories(dirs ...string) error
}
