package examination

import "errors"

var (
	ErrUnknownAssay    = errors.New("unknown assay type")
	ErrInvalidSerial   = errors.New("serial number must be positive")
	ErrFacilityMissing = errors.New("facility code is required")
)
