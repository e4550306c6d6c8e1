package lifecycle

import (
	"fmt"
	"strings"
)

// PrecacheFailure 记录单个预缓存条目的失败原因。
type PrecacheFailure struct {
	URL string
	Err error
}

// PrecacheError 表示预缓存批次失败：批次内任一条目失败则整批不写入。
type PrecacheError struct {
	Store    string
	Failures []PrecacheFailure
}

func (e *PrecacheError) Error() string {
	urls := make([]string, len(e.Failures))
	for i, failure := range e.Failures {
		urls[i] = failure.URL
	}
	return fmt.Sprintf("precache %s failed for %d url(s): %s", e.Store, len(e.Failures), strings.Join(urls, ", "))
}

// Unwrap 暴露各条目的底层错误，便于 errors.Is 判断传输失败。
func (e *PrecacheError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, failure := range e.Failures {
		if failure.Err != nil {
			errs = append(errs, failure.Err)
		}
	}
	return errs
}

// StatusError 表示预缓存条目得到了非 2xx 响应。
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}
