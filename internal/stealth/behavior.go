package stealth

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Behavior drives human-like input on a page: curved mouse paths,
// segmented scrolling with reading pauses, variable-delay typing.
// Every method is best effort; input emulation must never fail a
// fetch.
type Behavior struct {
	width  int
	height int
}

// NewBehavior sizes the emulation to the profile's viewport.
func NewBehavior(profile *DeviceProfile) *Behavior {
	return &Behavior{width: profile.ViewportWidth, height: profile.ViewportHeight}
}

// WanderMouse moves the cursor along a quadratic bezier to a random
// point, in segments with uneven step timing.
func (b *Behavior) WanderMouse(ctx context.Context, page *rod.Page) {
	fromX, fromY := float64(rand.Intn(b.width)), float64(rand.Intn(b.height))
	toX, toY := float64(rand.Intn(b.width)), float64(rand.Intn(b.height))
	// Control point off the straight line gives the curve.
	ctrlX := (fromX+toX)/2 + float64(rand.Intn(200)-100)
	ctrlY := (fromY+toY)/2 + float64(rand.Intn(200)-100)

	segments := 8 + rand.Intn(10)
	for i := 1; i <= segments; i++ {
		t := float64(i) / float64(segments)
		x := bezier(fromX, ctrlX, toX, t)
		y := bezier(fromY, ctrlY, toY, t)
		if err := page.Mouse.MoveLinear(proto.NewPoint(x, y), 2); err != nil {
			return
		}
		if !sleepCtx(ctx, time.Duration(5+rand.Intn(25))*time.Millisecond) {
			return
		}
	}
}

// ReadScroll scrolls down in several bursts with pauses in between,
// occasionally backtracking a little the way a reader re-checks a
// paragraph.
func (b *Behavior) ReadScroll(ctx context.Context, page *rod.Page) {
	bursts := 2 + rand.Intn(3)
	for i := 0; i < bursts; i++ {
		amount := float64(300 + rand.Intn(500))
		if err := page.Mouse.Scroll(0, amount, 3+rand.Intn(5)); err != nil {
			return
		}
		if !sleepCtx(ctx, time.Duration(400+rand.Intn(1100))*time.Millisecond) {
			return
		}
		if rand.Float64() < 0.3 {
			if err := page.Mouse.Scroll(0, -float64(50+rand.Intn(100)), 2); err != nil {
				return
			}
			if !sleepCtx(ctx, time.Duration(200+rand.Intn(300))*time.Millisecond) {
				return
			}
		}
	}
}

// Type enters text with variable inter-key delay and the occasional
// longer hesitation.
func (b *Behavior) Type(ctx context.Context, page *rod.Page, text string) {
	for _, r := range text {
		if err := page.InsertText(string(r)); err != nil {
			return
		}
		delay := time.Duration(50+rand.Intn(150)) * time.Millisecond
		if rand.Float64() < 0.05 {
			delay += time.Duration(300+rand.Intn(500)) * time.Millisecond
		}
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

func bezier(p0, p1, p2, t float64) float64 {
	u := 1 - t
	return math.Round(u*u*p0 + 2*u*t*p1 + t*t*p2)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
