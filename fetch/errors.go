package fetch

import "errors"

// Every error returned by Fetch wraps exactly one of these.
var (
	ErrMissingInput      = errors.New("provide either a file upload, image_url, or image_base64 payload")
	ErrAmbiguousInput    = errors.New("provide only one of file upload, image_url, or image_base64")
	ErrEmptyInput        = errors.New("image payload is empty")
	ErrUnsupportedScheme = errors.New("only http/https URLs are supported")
	ErrPayloadTooLarge   = errors.New("remote image exceeds configured size limit")
	ErrDownload          = errors.New("failed to download image")
	ErrInvalidEncoding   = errors.New("image_base64 is not valid base64 data")
)
