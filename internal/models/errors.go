package models

import "errors"

// Common validation errors for models.
var (
	// ErrUnknownJobType indicates an unrecognised job type.
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrParamsRequired indicates the params variant for the job type is missing.
	ErrParamsRequired = errors.New("params for job type are required")

	// ErrInputOutputRequired indicates input or output path is missing.
	ErrInputOutputRequired = errors.New("input_path and output_path are required")

	// ErrFormatRequired indicates a required output format is missing.
	ErrFormatRequired = errors.New("output format is required")

	// ErrUnknownImageFilter indicates an unrecognised image filter name.
	ErrUnknownImageFilter = errors.New("unknown image filter")

	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrTenantRequired indicates a required tenant ID is empty.
	ErrTenantRequired = errors.New("tenant_id is required")

	// ErrMediaPathRequired indicates a playlist or schedule item has no media path.
	ErrMediaPathRequired = errors.New("media path is required")

	// ErrStartTimeRequired indicates a schedule entry has no start time.
	ErrStartTimeRequired = errors.New("start time is required")
)
