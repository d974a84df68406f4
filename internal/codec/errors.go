package codec

import "errors"

// Codec error kinds.
var (
	ErrInvalidTag    = errors.New("codec: invalid type tag")
	ErrTrailingBytes = errors.New("codec: trailing bytes after unpack")
	ErrUnexpectedEOF = errors.New("codec: unexpected end of input")
	ErrInvalidLength = errors.New("codec: invalid length prefix")
)
