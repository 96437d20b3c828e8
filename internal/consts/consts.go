package consts

const (
	MaxOrder        = 5     // highest BDF order
	MaxNewtonIter   = 4     // corrector iterations per attempt
	NewtonConvCoef  = 0.33  // corrector convergence threshold (wrms)
	NewtonCrateMax  = 0.9   // contraction rate above this aborts the corrector
	CjChangeMax     = 0.25  // relative cj drift before the Jacobian is refreshed
	MaxConvFails    = 10    // step attempts after corrector failures
	MaxErrTestFails = 7     // step attempts after error test failures
	MaxICIter       = 10    // initial-condition correction iterations
	DefaultMaxSteps = 10000 // internal step work limit
	DefaultICTol    = 1e-6  // initial-condition consistency tolerance

	StepSafety    = 0.9  // step size safety factor
	StepGrowMax   = 2.0  // largest step growth per accepted step
	StepShrinkMin = 0.25 // smallest step reduction per rejected step
	ConvFailCut   = 0.25 // step reduction after a corrector failure

	PivotRelThreshold = 1e-3 // sparse LU relative pivot threshold
	PivotAbsThreshold = 0.0  // sparse LU absolute pivot threshold

	MaxRootIter = 50 // event localisation iterations
)
