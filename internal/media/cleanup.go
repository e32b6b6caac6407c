package media

import (
	"errors"
	"io/fs"
	"os"
	"time"
)

var removeFile = os.Remove

// RemoveTemp deletes a transcoded output. A failed removal is retried once
// after retryDelay, since on some platforms the file stays locked until the
// media server has closed its last handle.
func RemoveTemp(path string, retryDelay time.Duration) error {
	if path == "" {
		return nil
	}

	err := removeFile(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	time.Sleep(retryDelay)
	err = removeFile(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
