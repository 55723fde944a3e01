package mark5b

import "errors"

var (
	ErrNoSync          = errors.New("no Mark5B header found")
	ErrNoEpoch         = errors.New("header epoch (kday) unknown")
	ErrOptions         = errors.New("invalid Mark5B stream options")
	ErrIncompleteFrame = errors.New("incomplete frame pending")
)
