package params

// Aspect is one of the fixed output aspect ratios.
type Aspect string

const (
	AspectOriginal Aspect = "original"
	Aspect1x1      Aspect = "1:1"
	Aspect4x3      Aspect = "4:3"
	Aspect3x4      Aspect = "3:4"
	Aspect16x9     Aspect = "16:9"
	Aspect9x16     Aspect = "9:16"
)

var aspectRatios = map[Aspect]float64{
	Aspect1x1:  1,
	Aspect4x3:  4.0 / 3.0,
	Aspect3x4:  3.0 / 4.0,
	Aspect16x9: 16.0 / 9.0,
	Aspect9x16: 9.0 / 16.0,
}

func (a Aspect) Valid() bool {
	if a == AspectOriginal {
		return true
	}
	_, ok := aspectRatios[a]
	return ok
}

// Ratio returns width/height for the aspect; false for AspectOriginal, which
// keeps whatever the source has.
func (a Aspect) Ratio() (float64, bool) {
	r, ok := aspectRatios[a]
	return r, ok
}

// Aspects lists every supported value in menu order.
func Aspects() []Aspect {
	return []Aspect{AspectOriginal, Aspect1x1, Aspect4x3, Aspect3x4, Aspect16x9, Aspect9x16}
}
