package macros

import "errors"

// ErrInvalidMacro is returned for malformed macro data.
var ErrInvalidMacro = errors.New("macros: invalid macro")
