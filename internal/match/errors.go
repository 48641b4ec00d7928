package match

import "errors"

// ErrInvalidSpecification is returned for conflicting or incomplete match
// parameters. It is always raised before any partition is touched.
var ErrInvalidSpecification = errors.New("invalid match specification")
