package cryptobox

import "errors"

var (
	ErrKeyUnconfigured  = errors.New("cryptobox: encryption key unconfigured")
	ErrDecryptionFailed = errors.New("cryptobox: message authentication failed")
)
