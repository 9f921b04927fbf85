package geometry

// GridPoint is one calibration grid position, in integer grid steps.
type GridPoint struct {
	RA  int
	DEC int
}

// CalibrationGrid is the plan of grid positions visited during calibration.
// Each position (ra, dec) is reached from the origin by pulsing
// ra*Constant seconds on RA and dec*Constant seconds on DEC.
type CalibrationGrid struct {
	Range    int     // grid spans -Range..Range on each axis
	Constant float64 // seconds per grid step
}

// NewCalibrationGrid creates a grid plan. A range below 1 is raised to 1.
func NewCalibrationGrid(gridRange int, constant float64) *CalibrationGrid {
	if gridRange < 1 {
		gridRange = 1
	}
	return &CalibrationGrid{Range: gridRange, Constant: constant}
}

// Side returns the number of positions along one axis.
func (g *CalibrationGrid) Side() int {
	return 2*g.Range + 1
}

// Points returns the positions in visiting order, RA-major, origin excluded.
func (g *CalibrationGrid) Points() []GridPoint {
	points := make([]GridPoint, 0, g.Side()*g.Side()-1)
	for ra := -g.Range; ra <= g.Range; ra++ {
		for dec := -g.Range; dec <= g.Range; dec++ {
			if ra == 0 && dec == 0 {
				continue
			}
			points = append(points, GridPoint{RA: ra, DEC: dec})
		}
	}
	return points
}

// Pulse returns the signed RA and DEC pulse durations (seconds) for a position.
func (g *CalibrationGrid) Pulse(p GridPoint) (ra, dec float64) {
	return g.Constant * float64(p.RA), g.Constant * float64(p.DEC)
}

// Progress returns the fraction of the grid done once p has been measured.
func (g *CalibrationGrid) Progress(p GridPoint) float64 {
	l := g.Side()
	return float64(l*(p.RA+g.Range)+(p.DEC+g.Range)+1) / float64(l*l)
}
