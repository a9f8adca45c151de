package profits

import "errors"

var (
	// ErrInvalidPeriod indicates a year or month outside the accepted range.
	ErrInvalidPeriod = errors.New("profits: invalid period")
	// ErrUnknownBranch indicates a branch name outside the policy table.
	ErrUnknownBranch = errors.New("profits: unknown branch")
	// ErrProviderFetchFailed indicates the data provider could not answer.
	ErrProviderFetchFailed = errors.New("profits: provider fetch failed")
	// ErrStaleRequest indicates a newer request superseded this one.
	ErrStaleRequest = errors.New("profits: request superseded")
	// ErrNotInitialised is returned by a zero Service.
	ErrNotInitialised = errors.New("profits: service not initialised")
)
