package scanner

import "errors"

var (
	errIncludeTooNew    = errors.New("include file mtime is not older than the compile")
	errTimeMacroPresent = errors.New("include file uses __TIME__ or __DATE__")
)
