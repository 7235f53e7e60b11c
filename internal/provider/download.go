package provider

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pdiddy/archivist/internal/budget"
	"github.com/pdiddy/archivist/internal/httpexec"
	"github.com/pdiddy/archivist/pkg/types"
)

// streamToFile writes resp.Body to destPath, budget-accounting every chunk
// through exec's accountant. On the first budget violation the partial file
// is truncated and deleted and the download fails with BudgetExceeded, per
// §4.1's streaming rule.
func streamToFile(exec *httpexec.Executor, providerKey string, resp *http.Response, destPath string) (int64, error) {
	class := budget.ClassForExt(filepath.Ext(destPath))
	acct := exec.Accountant()

	if acct != nil {
		estimated := parseContentLength(resp.Header.Get("Content-Length"))
		if err := acct.Reserve(class, estimated); err != nil {
			return 0, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, &types.IOError{Op: "mkdir objects dir", Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*.tmp")
	if err != nil {
		return 0, &types.IOError{Op: "create temp artifact", Err: err}
	}
	tmpName := tmp.Name()

	var total int64
	buf := make([]byte, 64*1024)
	firstChunk := true
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				tmp.Close()
				os.Remove(tmpName)
				return 0, &types.IOError{Op: "write artifact", Err: werr}
			}
			total += int64(n)
			if acct != nil {
				if aerr := acct.Account(class, int64(n), firstChunk); aerr != nil {
					tmp.Close()
					os.Remove(tmpName)
					return 0, aerr
				}
			}
			firstChunk = false
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			tmp.Close()
			os.Remove(tmpName)
			return 0, &types.IOError{Op: "read artifact body", Err: rerr}
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, &types.IOError{Op: "close temp artifact", Err: err}
	}
	if err := os.Rename(tmpName, destPath); err != nil {
		os.Remove(tmpName)
		return 0, &types.IOError{Op: "rename artifact", Err: err}
	}
	return total, nil
}
