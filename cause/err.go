package cause

import "go.uber.org/multierr"

// Err flattens the whole tree into one Go error, combining every failure,
// defect and interruption. It returns nil for an empty cause. Unlike Squash,
// no information is dropped.
func (c *Cause) Err() error {
	if c.IsEmpty() {
		return nil
	}
	var errs []error
	for _, f := range c.Failures() {
		errs = append(errs, f)
	}
	for _, d := range c.Defects() {
		if err, ok := d.(error); ok {
			errs = append(errs, err)
		} else {
			errs = append(errs, &DefectError{Value: d})
		}
	}
	if ids := c.Interruptors(); len(ids) > 0 {
		errs = append(errs, &InterruptedError{FiberIDs: ids})
	}
	return multierr.Combine(errs...)
}
