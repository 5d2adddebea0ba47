//go:build !ORT && !ALL

package backends

import (
	"fmt"

	"github.com/scanforge/frameval/options"
)

func newORTNet(_ []byte, _ *NetDescriptor, _ *options.Options) (Net, error) {
	return nil, fmt.Errorf("the ORT backend is not available: build with -tags ORT or -tags ALL")
}
