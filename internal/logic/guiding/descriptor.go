// Package guiding runs calibration, backlash estimation and the guiding
// loop on behalf of a Guider.
package guiding

import "fmt"

// Descriptor identifies a guider by the devices it uses. Its String form
// is the key under which the guider's records are stored.
type Descriptor struct {
	Camera         string `json:"camera" yaml:"camera"`
	CCD            int    `json:"ccd" yaml:"ccd"`
	GuidePort      string `json:"guideport" yaml:"guideport"`
	AdaptiveOptics string `json:"adaptiveoptics,omitempty" yaml:"adaptiveoptics,omitempty"`
}

func (d Descriptor) String() string {
	s := fmt.Sprintf("%s/%d/%s", d.Camera, d.CCD, d.GuidePort)
	if d.AdaptiveOptics != "" {
		s += "/" + d.AdaptiveOptics
	}
	return s
}
