package scheduling

import "time"

// Interval is a closed-open [Start, End) span of UTC instants.
type Interval struct {
	Start time.Time
	End   time.Time
}

// IsValid reports whether the interval has positive length.
func (iv Interval) IsValid() bool {
	return iv.End.After(iv.Start)
}

// Overlaps reports whether two closed-open intervals intersect.
// Back-to-back intervals (a.End == b.Start) do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && iv.End.After(other.Start)
}

// EffectiveInterval widens a service interval by its pre/post buffers,
// yielding the span of provider time the appointment actually occupies.
func EffectiveInterval(start, end time.Time, bufferBeforeMin, bufferAfterMin int) Interval {
	return Interval{
		Start: start.Add(-time.Duration(bufferBeforeMin) * time.Minute),
		End:   end.Add(time.Duration(bufferAfterMin) * time.Minute),
	}
}

// ResolveBuffers applies the buffer precedence chain: service-type override
// first, then the provider default, then zero.
func ResolveBuffers(svc *ServiceType, p *Provider) (before, after int) {
	before = firstBuffer(svc.BufferBefore, p.BufferBefore)
	after = firstBuffer(svc.BufferAfter, p.BufferAfter)
	return before, after
}

func firstBuffer(override *int, providerDefault int) int {
	if override != nil {
		return *override
	}
	if providerDefault > 0 {
		return providerDefault
	}
	return 0
}
