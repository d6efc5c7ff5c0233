//go:build !linux

package fiber

import (
	"errors"
	"fmt"
)

// The mapped strategies need anonymous mappings with adjustable access
// protection; only the heap strategy is available elsewhere.

type MappedBackend struct{}

func NewMappedBackend() *MappedBackend { return &MappedBackend{} }

func (*MappedBackend) Allocate(wosize int, id int64) (*Segment, error) {
	return nil, fmt.Errorf("fiber: mapped stacks: %w", errors.ErrUnsupported)
}

func (*MappedBackend) Release(*Segment)     {}
func (*MappedBackend) SupportsGrowth() bool { return false }

type GuardBackend struct {
	NoHugePages bool
}

func NewGuardBackend(noHugePages bool) *GuardBackend {
	return &GuardBackend{NoHugePages: noHugePages}
}

func (*GuardBackend) Allocate(wosize int, id int64) (*Segment, error) {
	return nil, fmt.Errorf("fiber: guard-page stacks: %w", errors.ErrUnsupported)
}

func (*GuardBackend) Release(*Segment)     {}
func (*GuardBackend) SupportsGrowth() bool { return false }
