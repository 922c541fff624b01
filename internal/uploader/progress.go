package uploader

import (
	"github.com/pixrelay/pixrelay/internal/pixmsg"
)

const (
	// creepCeiling is where synthetic progress stops. Only a real
	// event or final success may push the display past it.
	creepCeiling = 95.0
	// creepFloor is the smallest synthetic increment per tick.
	creepFloor = 0.1
)

// ProgressUpdate is one smoothed display value for one backend, tagged
// so a multi-backend consumer can route it.
type ProgressUpdate struct {
	Backend    string  `json:"backend"`
	Percent    float64 `json:"percent"`
	Step       string  `json:"step,omitempty"`
	StepIndex  int     `json:"step_index,omitempty"`
	TotalSteps int     `json:"total_steps,omitempty"`
}

// gauge holds the displayed percent for one attempt. It is owned by a
// single consumer goroutine, so it needs no locking. The display value
// never decreases within one attempt.
type gauge struct {
	visual  float64
	sawReal bool
}

// creep advances the display while the backend is silent. The increment
// decays with the remaining distance to the ceiling and stops entirely
// once a real event has been seen.
func (g *gauge) creep() (float64, bool) {
	if g.sawReal || g.visual >= creepCeiling {
		return g.visual, false
	}
	delta := (creepCeiling - g.visual) * 0.01
	if delta < creepFloor {
		delta = creepFloor
	}
	g.visual += delta
	if g.visual > creepCeiling {
		g.visual = creepCeiling
	}
	return g.visual, true
}

// real folds a genuine backend event into the display. A value below
// the current display is clamped, never shown as a regression.
func (g *gauge) real(ev pixmsg.Progress) float64 {
	g.sawReal = true
	if pct := ev.Percent(); pct > g.visual {
		g.visual = pct
	}
	return g.visual
}
