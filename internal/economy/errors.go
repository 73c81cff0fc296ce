package economy

import "errors"

var errInvalidPrice = errors.New("catalog gift has a non-positive price")
