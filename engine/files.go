package engine

import (
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// OpenSource opens path on fs for sequential reading: the sender's
// input byte-stream source. The caller owns closing the returned file.
func OpenSource(fs afero.Fs, path string) (afero.File, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "engine: open input file %q", path)
	}
	return f, nil
}

// CreateSink creates (or truncates) path on fs for sequential writing:
// the receiver's output byte-stream sink. The caller owns closing the
// returned file; it is flushed at close.
func CreateSink(fs afero.Fs, path string) (afero.File, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "engine: create output file %q", path)
	}
	return f, nil
}

// CloseAll closes every non-nil closer, aggregating every failure
// instead of reporting only the last one — the receiver must close
// both its output file and its socket, and the sender its input file
// and its socket.
func CloseAll(closers ...io.Closer) error {
	var result *multierror.Error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
