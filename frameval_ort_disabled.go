//go:build !ORT && !ALL

package frameval

import (
	"fmt"

	"github.com/scanforge/frameval/options"
)

func NewORTSession(_ ...options.WithOption) (*Session, error) {
	return nil, fmt.Errorf("the ORT backend is not available: build with -tags ORT or -tags ALL")
}
